package market

import (
	"sort"
	"time"

	"github.com/mbenitez/solemarket/internal/models"
)

// FindCounterparty selects the counterparty the order should trade against,
// or nil if no candidate is eligible. It is pure: candidates come from the
// caller and the clock is an argument, so it can be exercised against an
// in-memory list as well as a live store.
//
// A candidate is eligible when it is on the same variant, active, unexpired
// at now, owned by a different user, and its price crosses the order's. Among
// eligible candidates the best price wins: the lowest ask for a bid, the
// highest bid for an ask. Price ties go to the oldest candidate, so orders
// that have been resting longest are filled first.
func FindCounterparty(o *models.Order, candidates []models.Order, now time.Time) *models.Order {
	eligible := make([]models.Order, 0, len(candidates))
	for _, c := range candidates {
		if crosses(o, &c, now) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].PriceLocal != eligible[j].PriceLocal {
			if o.Side == models.SideBid {
				// Seeking an ask: lowest price first.
				return eligible[i].PriceLocal < eligible[j].PriceLocal
			}
			// Seeking a bid: highest price first.
			return eligible[i].PriceLocal > eligible[j].PriceLocal
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	best := eligible[0]
	return &best
}

// crosses reports whether c is an eligible counterparty for o at time now.
func crosses(o, c *models.Order, now time.Time) bool {
	if c.VariantID != o.VariantID || c.Status != models.StatusActive {
		return false
	}
	if !c.ExpiresAt.After(now) {
		return false
	}
	if c.UserID == o.UserID {
		return false
	}
	if o.Side == models.SideBid {
		return c.PriceLocal <= o.PriceLocal
	}
	return c.PriceLocal >= o.PriceLocal
}
