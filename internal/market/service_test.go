package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mbenitez/solemarket/internal/models"
)

type fixedRate struct {
	rate int64
}

func (r *fixedRate) Latest(context.Context) int64 { return r.rate }

func newTestService(store *MemStore, rate *fixedRate) *Service {
	return NewService(store, rate, nil, zap.NewNop())
}

func TestPlaceOrderRejectsInvalidPrice(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemStore(variantA), &fixedRate{rate: 13505000})

	for _, price := range []int64{0, -1, -9500000} {
		_, _, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, price, nil)
		assert.ErrorIs(t, err, ErrInvalidPrice, "price %d", price)
	}
}

func TestPlaceOrderRejectsUnknownVariant(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemStore(variantA), &fixedRate{rate: 13505000})

	_, _, err := svc.PlaceOrder(ctx, models.SideBid, buyer, "variant-nope", 9500000, nil)
	assert.ErrorIs(t, err, ErrVariantNotFound)
}

func TestPlaceOrderStampsPricesAndDefaults(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemStore(variantA), &fixedRate{rate: 13505000})

	before := time.Now()
	order, txn, err := svc.PlaceOrder(ctx, models.SideAsk, seller, variantA, 9500000, nil)
	require.NoError(t, err)
	assert.Nil(t, txn)

	assert.Equal(t, models.StatusActive, order.Status)
	assert.Equal(t, int64(9500000), order.PriceLocal)
	assert.Equal(t, int64(13505000), order.RateScaled)
	// round(9500000 * 10000 / 13505000)
	assert.Equal(t, int64(7034), order.PriceHard)
	// Default expiry is 30 days out.
	assert.WithinDuration(t, before.Add(DefaultExpiry), order.ExpiresAt, time.Minute)
}

func TestPlaceOrderMatchesInstantly(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 13505000})

	askOrder, txn, err := svc.PlaceOrder(ctx, models.SideAsk, seller, variantA, 9500000, nil)
	require.NoError(t, err)
	require.Nil(t, txn)

	bidOrder, txn, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 10000000, nil)
	require.NoError(t, err)
	require.NotNil(t, txn)

	assert.Equal(t, int64(9500000), txn.SalePriceLocal)
	assert.Equal(t, askOrder.ID, txn.AskID)
	assert.Equal(t, bidOrder.ID, txn.BidID)
	assert.Equal(t, buyer, txn.BuyerID)
	assert.Equal(t, seller, txn.SellerID)
	assert.Equal(t, models.StatusMatched, bidOrder.Status)

	stored, err := store.GetOrder(ctx, models.SideAsk, askOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, stored.Status)
}

func TestPlaceOrderNoCrossRests(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 13505000})

	askOrder, _, err := svc.PlaceOrder(ctx, models.SideAsk, seller, variantA, 9500000, nil)
	require.NoError(t, err)
	bidOrder, txn, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 9000000, nil)
	require.NoError(t, err)

	assert.Nil(t, txn)
	for _, o := range []*models.Order{askOrder, bidOrder} {
		stored, err := store.GetOrder(ctx, o.Side, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, stored.Status)
	}
}

func TestTransactionCarriesAskRateNotCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	rate := &fixedRate{rate: 13505000}
	svc := newTestService(store, rate)

	_, _, err := svc.PlaceOrder(ctx, models.SideAsk, seller, variantA, 9500000, nil)
	require.NoError(t, err)

	// The rate moves between ask submission and bid submission; the executed
	// transaction still carries the ask's stamped rate.
	rate.rate = 15000000
	_, txn, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 10000000, nil)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, int64(13505000), txn.RateScaled)
	assert.Equal(t, int64(7034), txn.SalePriceHard)
}

func TestPlaceOrderNeverSelfTrades(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 13505000})

	_, _, err := svc.PlaceOrder(ctx, models.SideAsk, buyer, variantA, 9000000, nil)
	require.NoError(t, err)
	_, txn, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 10000000, nil)
	require.NoError(t, err)
	assert.Nil(t, txn)
}

func TestPlaceOrderIgnoresExpiredCounterparty(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 13505000})

	expired := ask("", 9000000, time.Now().Add(-time.Hour), func(o *models.Order) {
		o.ExpiresAt = time.Now().Add(-time.Minute)
	})
	_, err := store.CreateOrder(ctx, &expired)
	require.NoError(t, err)

	_, txn, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 10000000, nil)
	require.NoError(t, err)
	assert.Nil(t, txn)
}

func TestConcurrentBidsSingleAsk(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 10000})

	_, _, err := svc.PlaceOrder(ctx, models.SideAsk, seller, variantA, 95000, nil)
	require.NoError(t, err)

	prices := []int64{110000, 100000}
	users := []string{"buyer-1", "buyer-2"}
	orders := make([]*models.Order, 2)
	txns := make([]*models.Transaction, 2)

	var wg sync.WaitGroup
	for i := range prices {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			orders[i], txns[i], err = svc.PlaceOrder(ctx, models.SideBid, users[i], variantA, prices[i], nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Exactly one bid executed against the single ask; the other is resting.
	var executed, resting int
	for i := range orders {
		stored, err := store.GetOrder(ctx, models.SideBid, orders[i].ID)
		require.NoError(t, err)
		switch stored.Status {
		case models.StatusMatched:
			executed++
			require.NotNil(t, txns[i])
		case models.StatusActive:
			resting++
			assert.Nil(t, txns[i])
		}
	}
	assert.Equal(t, 1, executed)
	assert.Equal(t, 1, resting)

	sellerTxns, err := svc.Transactions(ctx, seller, 10, 0)
	require.NoError(t, err)
	assert.Len(t, sellerTxns, 1)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 13505000})

	order, _, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 9500000, nil)
	require.NoError(t, err)

	t.Run("NotOwner", func(t *testing.T) {
		_, err := svc.Cancel(ctx, models.SideBid, order.ID, "somebody-else")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("Success", func(t *testing.T) {
		cancelled, err := svc.Cancel(ctx, models.SideBid, order.ID, buyer)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, cancelled.Status)
	})

	t.Run("AlreadyCancelled", func(t *testing.T) {
		_, err := svc.Cancel(ctx, models.SideBid, order.ID, buyer)
		var notActive *NotActiveError
		require.ErrorAs(t, err, &notActive)
		assert.Equal(t, models.StatusCancelled, notActive.Status)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := svc.Cancel(ctx, models.SideBid, "no-such-order", buyer)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestCancelAfterMatchReportsMatched(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 13505000})

	askOrder, _, err := svc.PlaceOrder(ctx, models.SideAsk, seller, variantA, 9500000, nil)
	require.NoError(t, err)
	_, txn, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 9500000, nil)
	require.NoError(t, err)
	require.NotNil(t, txn)

	_, err = svc.Cancel(ctx, models.SideAsk, askOrder.ID, seller)
	var notActive *NotActiveError
	require.ErrorAs(t, err, &notActive)
	assert.Equal(t, models.StatusMatched, notActive.Status)
}

func TestSweepSettlesRestingPairsAndExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 10000})

	now := time.Now()
	// Seed crossing orders directly so no match fires on creation.
	restingAsk := ask("", 95000, now.Add(-2*time.Hour))
	_, err := store.CreateOrder(ctx, &restingAsk)
	require.NoError(t, err)
	restingBid := bid("", 100000, now.Add(-time.Hour))
	createdBid, err := store.CreateOrder(ctx, &restingBid)
	require.NoError(t, err)
	overdue := bid("", 50000, now.Add(-time.Hour), func(o *models.Order) {
		o.UserID = "buyer-overdue"
		o.ExpiresAt = now.Add(-time.Minute)
	})
	createdOverdue, err := store.CreateOrder(ctx, &overdue)
	require.NoError(t, err)

	svc.SweepOnce(ctx)

	stored, err := store.GetOrder(ctx, models.SideBid, createdBid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, stored.Status)

	txns, err := svc.Transactions(ctx, seller, 10, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(95000), txns[0].SalePriceLocal)

	expiredOrder, err := store.GetOrder(ctx, models.SideBid, createdOverdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expiredOrder.Status)
}

func TestOrdersListing(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(variantA)
	svc := newTestService(store, &fixedRate{rate: 13505000})

	first, _, err := svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 9000000, nil)
	require.NoError(t, err)
	_, _, err = svc.PlaceOrder(ctx, models.SideBid, buyer, variantA, 9100000, nil)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, models.SideBid, first.ID, buyer)
	require.NoError(t, err)

	active, err := svc.Orders(ctx, models.SideBid, buyer, models.StatusActive, 50, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := svc.Orders(ctx, models.SideBid, buyer, "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
