// Package db implements the durable store on Postgres. Status transitions
// are expressed as conditional UPDATEs checked by affected-row count, and
// exactly-once trade recording rides on the transactions table's unique
// constraints per bid id and ask id.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbenitez/solemarket/internal/market"
	"github.com/mbenitez/solemarket/internal/models"
)

// pgUniqueViolation is the Postgres error code for a unique constraint hit.
const pgUniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

var _ market.Store = (*DB)(nil)

// New initializes a new database connection pool
func New(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

func tableFor(side models.Side) (string, error) {
	switch side {
	case models.SideBid:
		return "bids", nil
	case models.SideAsk:
		return "asks", nil
	default:
		return "", fmt.Errorf("unknown side %q", side)
	}
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3) RETURNING id, username, password_hash, created_at",
		uuid.NewString(), username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE id = $1",
		id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// VariantExists reports whether the variant exists and is active.
func (db *DB) VariantExists(ctx context.Context, variantID string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM variants WHERE id = $1 AND active)",
		variantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check variant: %w", err)
	}
	return exists, nil
}

// LatestRate returns the most recent exchange rate observation, or nil when
// none has been recorded yet.
func (db *DB) LatestRate(ctx context.Context) (*models.ExchangeRate, error) {
	rate := &models.ExchangeRate{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, rate_scaled, created_at FROM exchange_rates ORDER BY created_at DESC LIMIT 1").
		Scan(&rate.ID, &rate.RateScaled, &rate.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest rate: %w", err)
	}
	return rate, nil
}

// CreateOrder inserts a new bid or ask
func (db *DB) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	table, err := tableFor(o.Side)
	if err != nil {
		return nil, err
	}

	stored := *o
	stored.ID = uuid.NewString()
	err = db.Pool.QueryRow(ctx,
		"INSERT INTO "+table+" (id, variant_id, user_id, price_local, price_hard, rate_scaled, status, expires_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at",
		stored.ID, stored.VariantID, stored.UserID, stored.PriceLocal, stored.PriceHard,
		stored.RateScaled, stored.Status, stored.ExpiresAt).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &stored, nil
}

// GetOrder retrieves one order by side and id
func (db *DB) GetOrder(ctx context.Context, side models.Side, id string) (*models.Order, error) {
	table, err := tableFor(side)
	if err != nil {
		return nil, err
	}

	o := &models.Order{Side: side}
	err = db.Pool.QueryRow(ctx,
		"SELECT id, variant_id, user_id, price_local, price_hard, rate_scaled, status, expires_at, created_at "+
			"FROM "+table+" WHERE id = $1", id).
		Scan(&o.ID, &o.VariantID, &o.UserID, &o.PriceLocal, &o.PriceHard, &o.RateScaled,
			&o.Status, &o.ExpiresAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, market.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ActiveOrders retrieves the active, unexpired orders for a variant. Expiry
// is re-checked against the database clock on every call; a stale status is
// never trusted.
func (db *DB) ActiveOrders(ctx context.Context, side models.Side, variantID string) ([]models.Order, error) {
	table, err := tableFor(side)
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx,
		"SELECT id, variant_id, user_id, price_local, price_hard, rate_scaled, status, expires_at, created_at "+
			"FROM "+table+" WHERE variant_id = $1 AND status = 'active' AND expires_at > now() "+
			"ORDER BY created_at ASC", variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows, side)
}

// ListOrders retrieves a user's orders, newest first
func (db *DB) ListOrders(ctx context.Context, side models.Side, userID, status string, limit, offset int) ([]models.Order, error) {
	table, err := tableFor(side)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, variant_id, user_id, price_local, price_hard, rate_scaled, status, expires_at, created_at " +
		"FROM " + table + " WHERE user_id = $1"
	args := []any{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows, side)
}

func scanOrders(rows pgx.Rows, side models.Side) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		o := models.Order{Side: side}
		if err := rows.Scan(&o.ID, &o.VariantID, &o.UserID, &o.PriceLocal, &o.PriceHard,
			&o.RateScaled, &o.Status, &o.ExpiresAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// TransitionOrder conditionally moves an order from one status to another.
// Exactly one of any set of racing callers observes true.
func (db *DB) TransitionOrder(ctx context.Context, side models.Side, id, from, to string) (bool, error) {
	table, err := tableFor(side)
	if err != nil {
		return false, err
	}

	tag, err := db.Pool.Exec(ctx,
		"UPDATE "+table+" SET status = $1 WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExecuteMatch settles a bid/ask pair in a single database transaction: both
// orders move active -> matched and one ledger row is inserted. Any conflict
// rolls the whole unit back, so an order can never be matched without its
// transaction or vice versa.
func (db *DB) ExecuteMatch(ctx context.Context, bid, ask *models.Order, txn *models.Transaction) (*models.Transaction, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE bids SET status = 'matched' WHERE id = $1 AND status = 'active'", bid.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to transition bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, market.ErrCounterpartyLost
	}

	tag, err = tx.Exec(ctx,
		"UPDATE asks SET status = 'matched' WHERE id = $1 AND status = 'active'", ask.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to transition ask: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, market.ErrCounterpartyLost
	}

	recorded := *txn
	recorded.ID = uuid.NewString()
	err = tx.QueryRow(ctx,
		"INSERT INTO transactions (id, bid_id, ask_id, variant_id, buyer_id, seller_id, "+
			"sale_price_local, sale_price_hard, rate_scaled, status) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at",
		recorded.ID, recorded.BidID, recorded.AskID, recorded.VariantID, recorded.BuyerID,
		recorded.SellerID, recorded.SalePriceLocal, recorded.SalePriceHard,
		recorded.RateScaled, recorded.Status).Scan(&recorded.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, market.ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit match: %w", err)
	}
	return &recorded, nil
}

// ListTransactions retrieves the trades a user participated in, newest first
func (db *DB) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, bid_id, ask_id, variant_id, buyer_id, seller_id, sale_price_local, "+
			"sale_price_hard, rate_scaled, status, created_at FROM transactions "+
			"WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.BidID, &t.AskID, &t.VariantID, &t.BuyerID, &t.SellerID,
			&t.SalePriceLocal, &t.SalePriceHard, &t.RateScaled, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}

// ActiveVariants returns variants that currently have active orders resting
// on both sides of the market.
func (db *DB) ActiveVariants(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT variant_id FROM bids WHERE status = 'active' AND expires_at > now() "+
			"INTERSECT "+
			"SELECT variant_id FROM asks WHERE status = 'active' AND expires_at > now()")
	if err != nil {
		return nil, fmt.Errorf("failed to get active variants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireOrders transitions overdue active orders to expired.
func (db *DB) ExpireOrders(ctx context.Context, side models.Side, now time.Time) (int64, error) {
	table, err := tableFor(side)
	if err != nil {
		return 0, err
	}

	tag, err := db.Pool.Exec(ctx,
		"UPDATE "+table+" SET status = 'expired' WHERE status = 'active' AND expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateRate records an exchange rate observation. Used by seeding and by
// whatever external process ingests rates.
func (db *DB) CreateRate(ctx context.Context, rateScaled int64) (*models.ExchangeRate, error) {
	rate := &models.ExchangeRate{RateScaled: rateScaled}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO exchange_rates (id, rate_scaled) VALUES ($1, $2) RETURNING id, created_at",
		uuid.NewString(), rateScaled).Scan(&rate.ID, &rate.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate: %w", err)
	}
	return rate, nil
}

// CreateVariant registers a sellable variant. The catalog proper is external;
// this exists for seeding and tests.
func (db *DB) CreateVariant(ctx context.Context, productName, sizeLabel string) (*models.Variant, error) {
	v := &models.Variant{ProductName: productName, SizeLabel: sizeLabel, Active: true}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO variants (id, product_name, size_label, active) VALUES ($1, $2, $3, TRUE) RETURNING id",
		uuid.NewString(), productName, sizeLabel).Scan(&v.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create variant: %w", err)
	}
	return v, nil
}
