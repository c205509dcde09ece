// Package stats exposes each executed trade to downstream market-statistics
// consumers: Prometheus metrics and a websocket trade feed.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Match attempt outcomes.
const (
	ResultExecuted = "executed"
	ResultLost     = "lost"
	ResultNone     = "none"
)

// MatchAttempts counts matching pipeline runs by outcome. "lost" means the
// execution lost the race to a competing order, which is a normal outcome.
var MatchAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "solemarket",
		Subsystem: "market",
		Name:      "match_attempts_total",
		Help:      "Match attempts by outcome (executed, lost, none)",
	},
	[]string{"result"},
)

// TransactionsTotal counts recorded trades.
var TransactionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "solemarket",
		Subsystem: "market",
		Name:      "transactions_total",
		Help:      "Trades recorded in the ledger",
	},
)

// LastSalePrice tracks the most recent sale price per variant, in local
// minor units.
var LastSalePrice = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "solemarket",
		Subsystem: "market",
		Name:      "last_sale_price_local",
		Help:      "Most recent sale price per variant in local minor units",
	},
	[]string{"variant_id"},
)
