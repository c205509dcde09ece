package market

import (
	"context"

	"github.com/mbenitez/solemarket/internal/models"
)

// Executor settles a crossing bid/ask pair against the store.
type Executor struct {
	store Store
}

// NewExecutor creates an executor backed by store.
func NewExecutor(store Store) *Executor {
	return &Executor{store: store}
}

// Execute records the trade between bid and ask. The sale price, hard-currency
// amount and exchange rate are always the ask's: the bid lifts the seller's
// quoted offer. The store applies the two status transitions and the ledger
// insert as one atomic unit, so a lost race (ErrCounterpartyLost or
// ErrDuplicateTransaction) leaves both orders untouched; the caller must then
// abandon this pair rather than retry it.
func (e *Executor) Execute(ctx context.Context, bid, ask *models.Order) (*models.Transaction, error) {
	txn := &models.Transaction{
		BidID:          bid.ID,
		AskID:          ask.ID,
		VariantID:      ask.VariantID,
		BuyerID:        bid.UserID,
		SellerID:       ask.UserID,
		SalePriceLocal: ask.PriceLocal,
		SalePriceHard:  ask.PriceHard,
		RateScaled:     ask.RateScaled,
		Status:         models.TxStatusPendingPayment,
	}
	return e.store.ExecuteMatch(ctx, bid, ask, txn)
}
