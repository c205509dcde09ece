package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbenitez/solemarket/internal/models"
)

const (
	variantA = "variant-a"
	variantB = "variant-b"
	buyer    = "user-buyer"
	seller   = "user-seller"
)

func ask(id string, price int64, createdAt time.Time, opts ...func(*models.Order)) models.Order {
	o := models.Order{
		ID:         id,
		Side:       models.SideAsk,
		VariantID:  variantA,
		UserID:     seller,
		PriceLocal: price,
		PriceHard:  price / 1000,
		RateScaled: 10000000,
		Status:     models.StatusActive,
		ExpiresAt:  createdAt.Add(30 * 24 * time.Hour),
		CreatedAt:  createdAt,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func bid(id string, price int64, createdAt time.Time, opts ...func(*models.Order)) models.Order {
	o := ask(id, price, createdAt, opts...)
	o.Side = models.SideBid
	o.UserID = buyer
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func TestFindCounterpartySelectsLowestAsk(t *testing.T) {
	now := time.Now()
	b := bid("b1", 100000, now)
	asks := []models.Order{
		ask("a1", 95000, now.Add(-3*time.Hour)),
		ask("a2", 90000, now.Add(-2*time.Hour)),
		ask("a3", 98000, now.Add(-1*time.Hour)),
	}

	got := FindCounterparty(&b, asks, now)
	require.NotNil(t, got)
	assert.Equal(t, "a2", got.ID)
	assert.Equal(t, int64(90000), got.PriceLocal)
}

func TestFindCounterpartySelectsHighestBid(t *testing.T) {
	now := time.Now()
	a := ask("a1", 90000, now)
	bids := []models.Order{
		bid("b1", 95000, now.Add(-3*time.Hour)),
		bid("b2", 110000, now.Add(-2*time.Hour)),
		bid("b3", 98000, now.Add(-1*time.Hour)),
	}

	got := FindCounterparty(&a, bids, now)
	require.NotNil(t, got)
	assert.Equal(t, "b2", got.ID)
}

func TestFindCounterpartyTieBreaksByAge(t *testing.T) {
	now := time.Now()
	b := bid("b1", 100000, now)
	asks := []models.Order{
		ask("a-mid", 95000, now.Add(-2*time.Hour)),
		ask("a-oldest", 95000, now.Add(-3*time.Hour)),
		ask("a-newest", 95000, now.Add(-1*time.Hour)),
	}

	got := FindCounterparty(&b, asks, now)
	require.NotNil(t, got)
	assert.Equal(t, "a-oldest", got.ID)
}

func TestFindCounterpartyExactPriceCrosses(t *testing.T) {
	now := time.Now()
	b := bid("b1", 100000, now)
	asks := []models.Order{ask("a1", 100000, now.Add(-time.Hour))}

	got := FindCounterparty(&b, asks, now)
	require.NotNil(t, got)
	assert.Equal(t, "a1", got.ID)
}

func TestFindCounterpartyNoCross(t *testing.T) {
	now := time.Now()
	b := bid("b1", 9000000, now)
	asks := []models.Order{ask("a1", 9500000, now.Add(-time.Hour))}

	assert.Nil(t, FindCounterparty(&b, asks, now))

	a := ask("a2", 9500000, now)
	bids := []models.Order{bid("b2", 9000000, now.Add(-time.Hour))}
	assert.Nil(t, FindCounterparty(&a, bids, now))
}

func TestFindCounterpartyExcludesSelfTrade(t *testing.T) {
	now := time.Now()
	b := bid("b1", 100000, now)
	asks := []models.Order{
		ask("a1", 90000, now.Add(-time.Hour), func(o *models.Order) { o.UserID = buyer }),
	}

	assert.Nil(t, FindCounterparty(&b, asks, now))
}

func TestFindCounterpartyExcludesExpired(t *testing.T) {
	now := time.Now()
	b := bid("b1", 100000, now)
	asks := []models.Order{
		ask("a1", 90000, now.Add(-time.Hour), func(o *models.Order) {
			o.ExpiresAt = now.Add(-time.Minute)
		}),
		ask("a2", 95000, now.Add(-time.Hour)),
	}

	got := FindCounterparty(&b, asks, now)
	require.NotNil(t, got)
	// The cheaper ask is expired; the live one wins despite its worse price.
	assert.Equal(t, "a2", got.ID)
}

func TestFindCounterpartyExcludesNonActive(t *testing.T) {
	now := time.Now()
	b := bid("b1", 100000, now)
	for _, status := range []string{models.StatusMatched, models.StatusCancelled, models.StatusExpired} {
		asks := []models.Order{
			ask("a1", 90000, now.Add(-time.Hour), func(o *models.Order) { o.Status = status }),
		}
		assert.Nilf(t, FindCounterparty(&b, asks, now), "status %s", status)
	}
}

func TestFindCounterpartyExcludesOtherVariants(t *testing.T) {
	now := time.Now()
	b := bid("b1", 100000, now)
	asks := []models.Order{
		ask("a1", 90000, now.Add(-time.Hour), func(o *models.Order) { o.VariantID = variantB }),
	}

	assert.Nil(t, FindCounterparty(&b, asks, now))
}

func TestFindCounterpartyEmptyCandidates(t *testing.T) {
	now := time.Now()
	b := bid("b1", 100000, now)
	assert.Nil(t, FindCounterparty(&b, nil, now))
}
