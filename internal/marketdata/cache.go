package marketdata

import (
	"context"
	"sync"
	"time"
)

// SectorCache memoises industry lookups for the process lifetime. Entries
// never expire; industry labels tolerate staleness by design.
type SectorCache struct {
	provider Provider

	mu    sync.Mutex
	cache map[string]string
}

// NewSectorCache wraps provider with a per-process industry memo.
func NewSectorCache(provider Provider) *SectorCache {
	return &SectorCache{provider: provider, cache: make(map[string]string)}
}

// Industry returns the cached industry label for symbol, fetching on first
// use. Lookup failures are not cached so transient errors can heal.
func (s *SectorCache) Industry(ctx context.Context, symbol string) (string, error) {
	s.mu.Lock()
	if label, ok := s.cache[symbol]; ok {
		s.mu.Unlock()
		return label, nil
	}
	s.mu.Unlock()

	label, err := s.provider.Industry(ctx, symbol)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.cache[symbol] = label
	s.mu.Unlock()
	return label, nil
}

// RegimeCache memoises the broad-market regime classification with a short
// TTL, so per-candidate macro checks do not refetch a year of bars.
type RegimeCache struct {
	provider Provider
	symbol   string
	ttl      time.Duration

	mu        sync.Mutex
	above200  bool
	known     bool
	alignment string
	fetchedAt time.Time
}

// NewRegimeCache builds a regime cache for the broad-market symbol
// (typically SPY) with the given TTL.
func NewRegimeCache(provider Provider, symbol string, ttl time.Duration) *RegimeCache {
	return &RegimeCache{provider: provider, symbol: symbol, ttl: ttl}
}

func (r *RegimeCache) refresh(ctx context.Context) error {
	bars, err := r.provider.DailyBars(ctx, r.symbol)
	if err != nil {
		return err
	}
	above, known := Above200SMA(bars.Closes)
	r.above200 = above
	r.known = known
	r.alignment = RegimeAlignment(bars.Closes)
	r.fetchedAt = time.Now()
	return nil
}

// Above200 reports whether the broad market closed above its 200-day mean.
// known=false means the answer is unavailable (callers fail open).
func (r *RegimeCache) Above200(ctx context.Context) (above, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.fetchedAt) > r.ttl {
		if err := r.refresh(ctx); err != nil {
			return false, false
		}
	}
	return r.above200, r.known
}

// Alignment returns the broad-market 50/200 alignment label, or "" when
// unavailable.
func (r *RegimeCache) Alignment(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.fetchedAt) > r.ttl {
		if err := r.refresh(ctx); err != nil {
			return ""
		}
	}
	return r.alignment
}
