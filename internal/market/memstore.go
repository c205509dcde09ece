package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbenitez/solemarket/internal/models"
)

// MemStore is an in-memory Store used in tests and local development. A
// single mutex gives it the same observable semantics as the Postgres store:
// conditional transitions that exactly one racing caller wins, and at most
// one transaction per bid id and per ask id.
type MemStore struct {
	mu       sync.Mutex
	orders   map[models.Side]map[string]*models.Order
	txns     []models.Transaction
	txnByBid map[string]bool
	txnByAsk map[string]bool
	variants map[string]bool
}

// NewMemStore creates a store pre-populated with the given active variants.
func NewMemStore(variantIDs ...string) *MemStore {
	s := &MemStore{
		orders: map[models.Side]map[string]*models.Order{
			models.SideBid: {},
			models.SideAsk: {},
		},
		txnByBid: make(map[string]bool),
		txnByAsk: make(map[string]bool),
		variants: make(map[string]bool),
	}
	for _, id := range variantIDs {
		s.variants[id] = true
	}
	return s
}

// AddVariant registers an active variant.
func (s *MemStore) AddVariant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[id] = true
}

func (s *MemStore) CreateOrder(_ context.Context, o *models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *o
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.Status == "" {
		stored.Status = models.StatusActive
	}
	s.orders[stored.Side][stored.ID] = &stored

	out := stored
	return &out, nil
}

func (s *MemStore) GetOrder(_ context.Context, side models.Side, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[side][id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := *o
	return &out, nil
}

func (s *MemStore) ActiveOrders(_ context.Context, side models.Side, variantID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []models.Order
	for _, o := range s.orders[side] {
		if o.VariantID == variantID && o.Status == models.StatusActive && o.ExpiresAt.After(now) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListOrders(_ context.Context, side models.Side, userID, status string, limit, offset int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, o := range s.orders[side] {
		if o.UserID != userID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) TransitionOrder(_ context.Context, side models.Side, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[side][id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (s *MemStore) ExecuteMatch(_ context.Context, bid, ask *models.Order, txn *models.Transaction) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	storedBid, ok := s.orders[models.SideBid][bid.ID]
	if !ok || storedBid.Status != models.StatusActive {
		return nil, ErrCounterpartyLost
	}
	storedAsk, ok := s.orders[models.SideAsk][ask.ID]
	if !ok || storedAsk.Status != models.StatusActive {
		return nil, ErrCounterpartyLost
	}
	if s.txnByBid[bid.ID] || s.txnByAsk[ask.ID] {
		return nil, ErrDuplicateTransaction
	}

	storedBid.Status = models.StatusMatched
	storedAsk.Status = models.StatusMatched

	recorded := *txn
	recorded.ID = uuid.NewString()
	recorded.CreatedAt = time.Now()
	s.txns = append(s.txns, recorded)
	s.txnByBid[bid.ID] = true
	s.txnByAsk[ask.ID] = true

	out := recorded
	return &out, nil
}

func (s *MemStore) ListTransactions(_ context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, t := range s.txns {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) VariantExists(_ context.Context, variantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variants[variantID], nil
}

func (s *MemStore) ActiveVariants(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	active := func(side models.Side, variantID string) bool {
		for _, o := range s.orders[side] {
			if o.VariantID == variantID && o.Status == models.StatusActive && o.ExpiresAt.After(now) {
				return true
			}
		}
		return false
	}

	var out []string
	for v := range s.variants {
		if active(models.SideBid, v) && active(models.SideAsk, v) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) ExpireOrders(_ context.Context, side models.Side, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, o := range s.orders[side] {
		if o.Status == models.StatusActive && !o.ExpiresAt.After(now) {
			o.Status = models.StatusExpired
			n++
		}
	}
	return n, nil
}
