package coordination

import (
	"context"
	"log/slog"
	"time"
)

// Config carries the tunables for a State, mirroring the constants named in
// spec.md §4.1-§4.3.
type Config struct {
	MaxNonceGap  uint64
	MaxNonceAge  time.Duration
	QuoteTTL     time.Duration
	ReapInterval time.Duration
}

// DefaultConfig returns the tunables spec.md calls out as defaults.
func DefaultConfig() Config {
	return Config{
		MaxNonceGap:  DefaultMaxNonceGap,
		MaxNonceAge:  DefaultMaxCacheAge,
		QuoteTTL:     30 * time.Second,
		ReapInterval: 5 * time.Second,
	}
}

// State is the single owned value composing C1, C2 and C3. It is created
// once at process startup and passed explicitly to the orchestrator and the
// coordination API handlers; there is no package-level mutable state.
type State struct {
	Locks  *Registry
	Nonces *NonceCache
	Quotes *QuoteCache

	reapInterval time.Duration
	logger       *slog.Logger
	cancel       context.CancelFunc
}

// New builds a State with the given tunables and rollback wiring already in
// place between the lock registry and the nonce cache.
func New(cfg Config, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	nonces := NewNonceCache(cfg.MaxNonceGap, cfg.MaxNonceAge)
	locks := NewRegistry(func(key WalletKey, nonce uint64) {
		if nonces.Rollback(key, nonce) {
			logger.Info("nonce rolled back on lease reclaim",
				"network", key.Network, "address", key.Address, "nonce", nonce)
		}
	})
	quotes := NewQuoteCache(cfg.QuoteTTL)
	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &State{Locks: locks, Nonces: nonces, Quotes: quotes, reapInterval: interval, logger: logger}
}

// StartReaper launches the background goroutine that reclaims expired
// leases on a fixed interval. It never blocks process exit: cancelling ctx
// (or calling Stop) tears the goroutine down, but nothing waits on it.
func (s *State) StartReaper(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		ticker := time.NewTicker(s.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Locks.ReapExpired(); n > 0 {
					s.logger.Info("reaped expired wallet locks", "count", n)
				}
			}
		}
	}()
}

// Stop signals the reaper goroutine to exit. Safe to call even if
// StartReaper was never called.
func (s *State) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
