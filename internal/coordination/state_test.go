package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewStateWiresRollbackBetweenLocksAndNonces(t *testing.T) {
	s := New(DefaultConfig(), nil)
	key := NewWalletKey("eth", "0xabc")
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Locks.now = func() time.Time { return fakeNow }

	n, err := s.Nonces.NextNonce(context.Background(), fixedNonceFetcher{pending: 5}, key)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	lockID, _ := s.Locks.AcquireLeased(key, time.Millisecond)
	s.Locks.SetLeaseNonce(lockID, n)

	fakeNow = fakeNow.Add(time.Second)
	require.Equal(t, 1, s.Locks.ReapExpired())

	next, err := s.Nonces.NextNonce(context.Background(), fixedNonceFetcher{pending: 5}, key)
	require.NoError(t, err)
	require.EqualValues(t, 5, next) // rolled back to 5 by the reap, not left at 6
}

func TestStateStartReaperStopIsSafeWithoutStart(t *testing.T) {
	s := New(DefaultConfig(), nil)
	require.NotPanics(t, s.Stop)
}

func TestStateStartReaperReclaimsOnTimer(t *testing.T) {
	s := New(Config{ReapInterval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartReaper(ctx)
	defer s.Stop()

	key := NewWalletKey("eth", "0xabc")
	// AcquireLeased clamps the 1ms TTL up to MinLeaseTTL, so the lease only
	// expires after one second; the window leaves room for the next tick.
	s.Locks.AcquireLeased(key, time.Millisecond)

	require.Eventually(t, func() bool {
		return len(s.Locks.Status()) == 0
	}, MinLeaseTTL+2*time.Second, 10*time.Millisecond)
}
