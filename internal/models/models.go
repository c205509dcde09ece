package models

import "time"

// Side distinguishes the two halves of the market.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Order statuses. An order is mutable only while active; every other
// status is terminal.
const (
	StatusActive    = "active"
	StatusMatched   = "matched"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// TxStatusPendingPayment is the initial status of every transaction. The
// rest of the settlement lifecycle is owned by downstream systems.
const TxStatusPendingPayment = "pending_payment"

// User represents a registered user
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Variant is a sellable configuration of a product (e.g. one shoe size).
// The catalog itself is maintained outside the core.
type Variant struct {
	ID          string `json:"id"`
	ProductName string `json:"product_name"`
	SizeLabel   string `json:"size_label"`
	Active      bool   `json:"active"`
}

// Order is a standing bid or ask on a single variant. Prices are integer
// minor units: PriceLocal in the local currency, PriceHard derived from it
// through RateScaled (local units per hard unit, scaled by 10000).
type Order struct {
	ID         string    `json:"id"`
	Side       Side      `json:"side"`
	VariantID  string    `json:"variant_id"`
	UserID     string    `json:"user_id"`
	PriceLocal int64     `json:"price_local"`
	PriceHard  int64     `json:"price_hard"`
	RateScaled int64     `json:"rate_scaled"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"` // used for time priority
}

// Transaction is the immutable record of one completed trade. The sale
// price and rate are always the ask's.
type Transaction struct {
	ID             string    `json:"id"`
	BidID          string    `json:"bid_id"`
	AskID          string    `json:"ask_id"`
	VariantID      string    `json:"variant_id"`
	BuyerID        string    `json:"buyer_id"`
	SellerID       string    `json:"seller_id"`
	SalePriceLocal int64     `json:"sale_price_local"`
	SalePriceHard  int64     `json:"sale_price_hard"`
	RateScaled     int64     `json:"rate_scaled"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExchangeRate is one externally supplied rate observation. The core only
// ever reads the most recent row.
type ExchangeRate struct {
	ID         string    `json:"id"`
	RateScaled int64     `json:"rate_scaled"`
	CreatedAt  time.Time `json:"created_at"`
}
