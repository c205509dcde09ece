package market

import (
	"context"
	"time"

	"github.com/mbenitez/solemarket/internal/models"
)

// Store is the durable record of orders and transactions. Implementations
// must provide two primitives that everything else leans on: conditional
// status transitions (TransitionOrder, and the two transitions inside
// ExecuteMatch) that exactly one of any set of racing callers wins, and
// uniqueness of transactions per bid id and per ask id.
type Store interface {
	// CreateOrder persists o with a fresh id and creation time and returns
	// the stored order.
	CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error)

	// GetOrder returns the order or ErrOrderNotFound.
	GetOrder(ctx context.Context, side models.Side, id string) (*models.Order, error)

	// ActiveOrders returns the active, unexpired orders for a variant on one
	// side of the market. Expiry is checked against the clock at query time.
	ActiveOrders(ctx context.Context, side models.Side, variantID string) ([]models.Order, error)

	// ListOrders returns a user's orders, newest first. An empty status
	// returns all of them.
	ListOrders(ctx context.Context, side models.Side, userID, status string, limit, offset int) ([]models.Order, error)

	// TransitionOrder atomically sets the order's status to "to" only if it
	// is currently "from", reporting whether the transition was applied.
	TransitionOrder(ctx context.Context, side models.Side, id, from, to string) (bool, error)

	// ExecuteMatch atomically transitions both orders from active to matched
	// and records txn, as a single unit: on any conflict nothing is applied
	// and the error is ErrCounterpartyLost (an order was no longer active)
	// or ErrDuplicateTransaction (the ledger already references an order).
	ExecuteMatch(ctx context.Context, bid, ask *models.Order, txn *models.Transaction) (*models.Transaction, error)

	// ListTransactions returns transactions where the user is buyer or
	// seller, newest first.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)

	// VariantExists reports whether the variant exists and is active.
	VariantExists(ctx context.Context, variantID string) (bool, error)

	// ActiveVariants returns the variants that currently have at least one
	// active bid and one active ask.
	ActiveVariants(ctx context.Context) ([]string, error)

	// ExpireOrders transitions active orders whose expiry has passed to
	// expired, returning how many were affected.
	ExpireOrders(ctx context.Context, side models.Side, now time.Time) (int64, error)
}
