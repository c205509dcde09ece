// Package rates supplies the latest scaled exchange rate. Rate ingestion is
// external; the core only reads the most recent observation and falls back
// to a fixed constant when none exists yet.
package rates

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mbenitez/solemarket/internal/models"
)

// DefaultRateScaled is used when the store holds no rate observation at all:
// 1000.0000 local units per hard unit. Replicates the historical fallback;
// every use is logged so the missing-data condition stays visible.
const DefaultRateScaled int64 = 10000000

// Source reads the most recent rate observation. A nil rate with a nil error
// means no observation exists.
type Source interface {
	LatestRate(ctx context.Context) (*models.ExchangeRate, error)
}

// Service caches the latest rate in memory and refreshes it from the source
// on demand and, optionally, on a timer.
type Service struct {
	src Source
	log *zap.Logger
	ttl time.Duration

	mu       sync.RWMutex
	cached   int64
	cachedAt time.Time
}

// New creates a rate service. ttl bounds how long a cached rate is served
// without consulting the source again.
func New(src Source, ttl time.Duration, log *zap.Logger) *Service {
	return &Service{src: src, ttl: ttl, log: log}
}

// Latest returns the current scaled rate. It never fails: a source error
// falls back to the cached value, and an empty source falls back to
// DefaultRateScaled.
func (s *Service) Latest(ctx context.Context) int64 {
	s.mu.RLock()
	cached, at := s.cached, s.cachedAt
	s.mu.RUnlock()
	if cached != 0 && time.Since(at) < s.ttl {
		return cached
	}
	return s.refresh(ctx)
}

func (s *Service) refresh(ctx context.Context) int64 {
	r, err := s.src.LatestRate(ctx)
	if err != nil {
		s.mu.RLock()
		cached := s.cached
		s.mu.RUnlock()
		if cached != 0 {
			s.log.Warn("rate lookup failed, serving cached rate",
				zap.Int64("rate_scaled", cached), zap.Error(err))
			return cached
		}
		s.log.Warn("rate lookup failed, serving fallback rate",
			zap.Int64("rate_scaled", DefaultRateScaled), zap.Error(err))
		return DefaultRateScaled
	}
	if r == nil {
		s.log.Warn("no exchange rate on record, serving fallback rate",
			zap.Int64("rate_scaled", DefaultRateScaled))
		return DefaultRateScaled
	}

	s.mu.Lock()
	s.cached = r.RateScaled
	s.cachedAt = time.Now()
	s.mu.Unlock()
	return r.RateScaled
}

// Run refreshes the cache on a timer until ctx is done, keeping Latest warm
// between submissions.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.refresh(ctx)
	for {
		select {
		case <-ticker.C:
			s.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}
