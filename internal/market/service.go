// Package market implements the matching core: order intake, counterparty
// selection, and exactly-once match execution against a Store.
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mbenitez/solemarket/internal/models"
	"github.com/mbenitez/solemarket/internal/money"
	"github.com/mbenitez/solemarket/internal/stats"
)

// DefaultExpiry is applied when an order is submitted without an explicit
// expiry.
const DefaultExpiry = 30 * 24 * time.Hour

// maxSweepMatches bounds how many pairs one sweep settles per variant.
const maxSweepMatches = 100

// RateProvider supplies the current scaled exchange rate used to stamp
// hard-currency prices at submission time.
type RateProvider interface {
	Latest(ctx context.Context) int64
}

// Service drives the order lifecycle: validate, persist, then immediately
// attempt one match against the best eligible counterparty.
type Service struct {
	store Store
	rates RateProvider
	exec  *Executor
	feed  *stats.Hub
	log   *zap.Logger

	now func() time.Time
}

// NewService creates the matching service. feed may be nil when no trade
// feed is attached.
func NewService(store Store, rates RateProvider, feed *stats.Hub, log *zap.Logger) *Service {
	return &Service{
		store: store,
		rates: rates,
		exec:  NewExecutor(store),
		feed:  feed,
		log:   log,
		now:   time.Now,
	}
}

// PlaceOrder validates and persists a new bid or ask, then attempts a match.
// A valid submission always succeeds regardless of the match outcome: the
// returned transaction is non-nil only when an instantaneous match executed,
// in which case the returned order is already matched.
func (s *Service) PlaceOrder(ctx context.Context, side models.Side, userID, variantID string, priceLocal int64, expiresAt *time.Time) (*models.Order, *models.Transaction, error) {
	if !money.ValidatePrice(priceLocal) {
		return nil, nil, ErrInvalidPrice
	}

	ok, err := s.store.VariantExists(ctx, variantID)
	if err != nil {
		return nil, nil, fmt.Errorf("check variant: %w", err)
	}
	if !ok {
		return nil, nil, ErrVariantNotFound
	}

	rate := s.rates.Latest(ctx)
	priceHard, err := money.ConvertLocalToHard(priceLocal, rate)
	if err != nil || priceHard <= 0 {
		// A price too small to represent in the hard currency is rejected
		// the same way as a malformed one.
		return nil, nil, ErrInvalidPrice
	}

	expiry := s.now().Add(DefaultExpiry)
	if expiresAt != nil {
		expiry = *expiresAt
	}

	order := &models.Order{
		Side:       side,
		VariantID:  variantID,
		UserID:     userID,
		PriceLocal: priceLocal,
		PriceHard:  priceHard,
		RateScaled: rate,
		Status:     models.StatusActive,
		ExpiresAt:  expiry,
	}
	created, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, nil, fmt.Errorf("create order: %w", err)
	}

	txn := s.attemptMatch(ctx, created)
	return created, txn, nil
}

// attemptMatch runs one pass of the matching pipeline for o: find the best
// eligible counterparty and try to execute against it. Race losses are
// absorbed; o simply remains active. Returns the transaction on success.
func (s *Service) attemptMatch(ctx context.Context, o *models.Order) *models.Transaction {
	candidates, err := s.store.ActiveOrders(ctx, o.Side.Opposite(), o.VariantID)
	if err != nil {
		s.log.Warn("counterparty query failed",
			zap.String("order_id", o.ID), zap.Error(err))
		return nil
	}

	best := FindCounterparty(o, candidates, s.now())
	if best == nil {
		stats.MatchAttempts.WithLabelValues(stats.ResultNone).Inc()
		return nil
	}

	bid, ask := o, best
	if o.Side == models.SideAsk {
		bid, ask = best, o
	}

	txn, err := s.exec.Execute(ctx, bid, ask)
	switch {
	case errors.Is(err, ErrCounterpartyLost), errors.Is(err, ErrDuplicateTransaction):
		// A competing execution won the pair. Not an error: the order stays
		// active and a future arrival or sweep will pick it up.
		stats.MatchAttempts.WithLabelValues(stats.ResultLost).Inc()
		s.log.Debug("match attempt lost race",
			zap.String("bid_id", bid.ID), zap.String("ask_id", ask.ID))
		return nil
	case err != nil:
		s.log.Error("match execution failed",
			zap.String("bid_id", bid.ID), zap.String("ask_id", ask.ID), zap.Error(err))
		return nil
	}

	o.Status = models.StatusMatched
	stats.MatchAttempts.WithLabelValues(stats.ResultExecuted).Inc()
	stats.TransactionsTotal.Inc()
	stats.LastSalePrice.WithLabelValues(txn.VariantID).Set(float64(txn.SalePriceLocal))
	s.feed.Publish(stats.TradeEvent{
		VariantID:      txn.VariantID,
		SalePriceLocal: txn.SalePriceLocal,
		OccurredAt:     txn.CreatedAt,
	})
	s.log.Info("match executed",
		zap.String("transaction_id", txn.ID),
		zap.String("variant_id", txn.VariantID),
		zap.Int64("sale_price_local", txn.SalePriceLocal))
	return txn
}

// Cancel sets an active order to cancelled. Only the owner may cancel, and
// the transition is conditional: a cancel racing a match settles in favor of
// whichever transitions the status first.
func (s *Service) Cancel(ctx context.Context, side models.Side, id, userID string) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, side, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}

	applied, err := s.store.TransitionOrder(ctx, side, id, models.StatusActive, models.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if !applied {
		cur, err := s.store.GetOrder(ctx, side, id)
		if err != nil {
			return nil, err
		}
		return nil, &NotActiveError{Status: cur.Status}
	}

	o.Status = models.StatusCancelled
	return o, nil
}

// Orders lists a user's orders on one side, newest first. status may be
// empty to include every status.
func (s *Service) Orders(ctx context.Context, side models.Side, userID, status string, limit, offset int) ([]models.Order, error) {
	return s.store.ListOrders(ctx, side, userID, status, limit, offset)
}

// Transactions lists the trades a user participated in, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, limit, offset)
}

// RunSweeper periodically expires overdue orders and re-attempts matching
// for resting ones, catching pairs left behind by one-shot matching. Safe to
// re-run at any time: execution is idempotent per pair.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass.
func (s *Service) SweepOnce(ctx context.Context) {
	now := s.now()
	for _, side := range []models.Side{models.SideBid, models.SideAsk} {
		n, err := s.store.ExpireOrders(ctx, side, now)
		if err != nil {
			s.log.Warn("expiry sweep failed", zap.String("side", string(side)), zap.Error(err))
			continue
		}
		if n > 0 {
			s.log.Info("orders expired", zap.String("side", string(side)), zap.Int64("count", n))
		}
	}

	variants, err := s.store.ActiveVariants(ctx)
	if err != nil {
		s.log.Warn("active variant query failed", zap.Error(err))
		return
	}
	for _, v := range variants {
		s.sweepVariant(ctx, v)
	}
}

// sweepVariant settles crossing pairs on one variant until none remain or an
// attempt fails to execute.
func (s *Service) sweepVariant(ctx context.Context, variantID string) {
	for i := 0; i < maxSweepMatches; i++ {
		bids, err := s.store.ActiveOrders(ctx, models.SideBid, variantID)
		if err != nil || len(bids) == 0 {
			return
		}
		// Best bid first: highest price, then oldest.
		sort.Slice(bids, func(i, j int) bool {
			if bids[i].PriceLocal != bids[j].PriceLocal {
				return bids[i].PriceLocal > bids[j].PriceLocal
			}
			return bids[i].CreatedAt.Before(bids[j].CreatedAt)
		})
		top := bids[0]
		if s.attemptMatch(ctx, &top) == nil {
			return
		}
	}
}
