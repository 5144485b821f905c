package coordination

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxNonceGap and DefaultMaxCacheAge are the tunables named in
// spec.md §4.2 (N4): a cache entry is considered stale, and rebuilt from the
// chain's pending nonce, once either bound is crossed.
const (
	DefaultMaxNonceGap = 5
	DefaultMaxCacheAge = 120 * time.Second
)

// PendingNonceFetcher is the minimal chain-facing capability the nonce
// cache needs: a way to read the chain's own view of the next usable nonce
// for an address. Chain-family adapters satisfy this directly.
type PendingNonceFetcher interface {
	GetPendingNonce(ctx context.Context, address string) (uint64, error)
}

type nonceState struct {
	nextNonce uint64
	updatedAt time.Time
}

// NonceCache is the C2 nonce cache: a thin, self-healing layer over
// chain-reported pending nonces that lets many transactions be built
// in flight against the same wallet without each one re-querying the chain
// and racing the others for the same value.
type NonceCache struct {
	mu      sync.Mutex
	entries map[WalletKey]nonceState
	maxGap  uint64
	maxAge  time.Duration
	now     func() time.Time
}

// NewNonceCache constructs a cache with the given staleness tunables. A
// zero maxGap or maxAge disables that particular staleness check.
func NewNonceCache(maxGap uint64, maxAge time.Duration) *NonceCache {
	return &NonceCache{
		entries: make(map[WalletKey]nonceState),
		maxGap:  maxGap,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// NextNonce returns the nonce to use for the next transaction on key,
// advancing the cache so that concurrent callers (serialized by the wallet
// lock, in practice) each get a distinct value. It reconciles against the
// chain's pending nonce (N1-N3) and resets on staleness (N4).
func (c *NonceCache) NextNonce(ctx context.Context, fetcher PendingNonceFetcher, key WalletKey) (uint64, error) {
	pending, err := fetcher.GetPendingNonce(ctx, key.Address)
	if err != nil {
		return 0, err
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	state, cached := c.entries[key]
	if cached && c.isStale(state, pending, now) {
		cached = false
	}

	var next uint64
	switch {
	case !cached:
		next = pending
	case pending > state.nextNonce:
		next = pending
	default:
		next = state.nextNonce
	}

	c.entries[key] = nonceState{nextNonce: next + 1, updatedAt: now}
	return next, nil
}

func (c *NonceCache) isStale(state nonceState, pending uint64, now time.Time) bool {
	if c.maxGap > 0 {
		if state.nextNonce > pending && state.nextNonce-pending >= c.maxGap {
			return true
		}
	}
	if c.maxAge > 0 && now.Sub(state.updatedAt) >= c.maxAge {
		return true
	}
	return false
}

// Invalidate drops any cached state for key unconditionally, forcing the
// next NextNonce call to rebuild from the chain's pending value.
func (c *NonceCache) Invalidate(key WalletKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Rollback restores the cache to nonce n, undoing the effect of the call
// that returned n, but only if no other call has advanced the cache since
// (next_nonce must still equal n+1). Returns whether the rollback applied.
func (c *NonceCache) Rollback(key WalletKey, n uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.entries[key]
	if !ok || state.nextNonce != n+1 {
		return false
	}
	c.entries[key] = nonceState{nextNonce: n, updatedAt: c.now()}
	return true
}
