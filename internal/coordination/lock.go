package coordination

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLeaseTTL is used when a caller does not supply one.
const DefaultLeaseTTL = 60 * time.Second

// MaxLeaseTTL bounds how long an external collaborator may hold a lease
// before the reaper is guaranteed to reclaim it.
const MaxLeaseTTL = 300 * time.Second

// MinLeaseTTL is the floor applied to caller-supplied TTLs.
const MinLeaseTTL = 1 * time.Second

// ReleaseFunc releases a previously acquired wallet lock. Calling it more
// than once is a no-op.
type ReleaseFunc func()

type lockEntry struct {
	held    bool
	waiters *list.List // of chan struct{}
}

type lease struct {
	lockID        string
	key           WalletKey
	nonceSnapshot uint64
	hasNonce      bool
	expiresAt     time.Time
	release       ReleaseFunc
}

// LeaseSnapshot is a point-in-time view of an active external lease, used to
// answer status queries.
type LeaseSnapshot struct {
	LockID    string
	Network   string
	Scope     string
	Address   string
	Nonce     uint64
	HasNonce  bool
	ExpiresAt time.Time
	IsExpired bool
}

// RollbackFunc is invoked by the reaper (and by explicit release calls) when
// a leased lock with an assigned nonce is torn down without a submitted
// transaction, so the nonce cache can be rolled back to match.
type RollbackFunc func(key WalletKey, nonce uint64)

// Registry is the C1 wallet lock registry: one strictly-FIFO mutual
// exclusion queue per WalletKey, plus an externally-visible leased-lock
// layer used by the coordination API (C6).
type Registry struct {
	mu         sync.Mutex
	entries    map[WalletKey]*lockEntry
	leases     map[string]*lease
	rollback   RollbackFunc
	now        func() time.Time
	generation uint64
}

// NewRegistry constructs an empty registry. rollback may be nil if nonce
// rollback is not wired (e.g. in tests exercising locking alone).
func NewRegistry(rollback RollbackFunc) *Registry {
	return &Registry{
		entries:  make(map[WalletKey]*lockEntry),
		leases:   make(map[string]*lease),
		rollback: rollback,
		now:      time.Now,
	}
}

// Acquire blocks until the caller holds the exclusive lock for key, in
// strict FIFO order relative to other waiters on the same key. It never
// blocks callers waiting on a different key.
func (r *Registry) Acquire(key WalletKey) ReleaseFunc {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &lockEntry{waiters: list.New()}
		r.entries[key] = entry
	}
	if !entry.held {
		entry.held = true
		r.mu.Unlock()
		return r.releaseFunc(key)
	}
	ch := make(chan struct{})
	entry.waiters.PushBack(ch)
	r.mu.Unlock()
	<-ch
	return r.releaseFunc(key)
}

func (r *Registry) releaseFunc(key WalletKey) ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			entry := r.entries[key]
			if entry == nil {
				r.mu.Unlock()
				return
			}
			if front := entry.waiters.Front(); front != nil {
				entry.waiters.Remove(front)
				ch := front.Value.(chan struct{})
				r.mu.Unlock()
				close(ch)
				return
			}
			entry.held = false
			delete(r.entries, key)
			r.mu.Unlock()
		})
	}
}

// AcquireLeased acquires the exclusive lock for key (blocking, FIFO, same as
// Acquire) and registers it as an externally-visible lease with the given
// TTL, clamped to [MinLeaseTTL, MaxLeaseTTL]. The returned LockID is used by
// external collaborators to release or by the reaper to reclaim.
func (r *Registry) AcquireLeased(key WalletKey, ttl time.Duration) (lockID string, expiresAt time.Time) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if ttl < MinLeaseTTL {
		ttl = MinLeaseTTL
	}
	if ttl > MaxLeaseTTL {
		ttl = MaxLeaseTTL
	}
	release := r.Acquire(key)
	id := uuid.NewString()
	expiresAt = r.now().Add(ttl)
	r.mu.Lock()
	r.leases[id] = &lease{lockID: id, key: key, expiresAt: expiresAt, release: release}
	r.mu.Unlock()
	return id, expiresAt
}

// SetLeaseNonce records the nonce assigned under a lease, so that a later
// rollback (on expiry or explicit release without a submitted transaction)
// can restore the nonce cache correctly.
func (r *Registry) SetLeaseNonce(lockID string, nonce uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.leases[lockID]; ok {
		l.nonceSnapshot = nonce
		l.hasNonce = true
	}
}

// ReleaseLease releases a previously-leased lock by ID. If transactionSent
// is false and the lease carried a nonce snapshot, the nonce is rolled back
// before the lock is released. Returns false if lockID is unknown (already
// released, reaped, or never issued).
func (r *Registry) ReleaseLease(lockID string, transactionSent bool) bool {
	r.mu.Lock()
	l, ok := r.leases[lockID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.leases, lockID)
	r.mu.Unlock()

	if !transactionSent && l.hasNonce && r.rollback != nil {
		r.rollback(l.key, l.nonceSnapshot)
	}
	l.release()
	return true
}

// ReapExpired releases every lease whose TTL has elapsed, rolling back any
// nonce it carried, and reports how many were reclaimed. Safe to call on a
// timer; never blocks on external state.
func (r *Registry) ReapExpired() int {
	now := r.now()
	r.mu.Lock()
	var expired []*lease
	for id, l := range r.leases {
		if !l.expiresAt.After(now) {
			expired = append(expired, l)
			delete(r.leases, id)
		}
	}
	if len(expired) > 0 {
		r.generation++
	}
	r.mu.Unlock()

	for _, l := range expired {
		if l.hasNonce && r.rollback != nil {
			r.rollback(l.key, l.nonceSnapshot)
		}
		l.release()
	}
	return len(expired)
}

// Status returns a snapshot of every currently active lease.
func (r *Registry) Status() []LeaseSnapshot {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LeaseSnapshot, 0, len(r.leases))
	for _, l := range r.leases {
		out = append(out, LeaseSnapshot{
			LockID:    l.lockID,
			Network:   l.key.Network,
			Scope:     l.key.Scope,
			Address:   l.key.Address,
			Nonce:     l.nonceSnapshot,
			HasNonce:  l.hasNonce,
			ExpiresAt: l.expiresAt,
			IsExpired: !l.expiresAt.After(now),
		})
	}
	return out
}

// Generation returns the number of reap cycles that have reclaimed at least
// one lease, letting callers distinguish "nothing to report" from "leases
// were just reaped" between two status polls.
func (r *Registry) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}
