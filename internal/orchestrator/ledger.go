package orchestrator

import "swapgateway/internal/coordination"

// nonceLedger tracks every nonce assigned during one orchestrator run (a
// swap may assign one for an approve transaction and a second for the swap
// itself) so that, on any exit path before the corresponding transaction is
// confirmed submitted, the unused ones are rolled back in the reverse order
// they were assigned. Rolling back in reverse keeps each call consistent
// with N5's next_nonce == n+1 requirement.
type nonceLedger struct {
	key       coordination.WalletKey
	cache     *coordination.NonceCache
	assigned  []uint64
	submitted map[uint64]bool
}

func newNonceLedger(key coordination.WalletKey, cache *coordination.NonceCache) *nonceLedger {
	return &nonceLedger{key: key, cache: cache, submitted: make(map[uint64]bool)}
}

func (l *nonceLedger) assign(n uint64) {
	l.assigned = append(l.assigned, n)
}

func (l *nonceLedger) markSubmitted(n uint64) {
	l.submitted[n] = true
}

func (l *nonceLedger) rollbackUnsubmitted() {
	for i := len(l.assigned) - 1; i >= 0; i-- {
		n := l.assigned[i]
		if !l.submitted[n] {
			l.cache.Rollback(l.key, n)
		}
	}
}
