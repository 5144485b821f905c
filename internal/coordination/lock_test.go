package coordination

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// P1: grants on the same key happen in arrival order.
func TestRegistryAcquireIsFIFO(t *testing.T) {
	r := NewRegistry(nil)
	key := NewWalletKey("eth", "0xabc")

	release := r.Acquire(key)

	const waiters = 5
	order := make([]int, 0, waiters)
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(waiters)

	for i := 0; i < waiters; i++ {
		i := i
		go func() {
			defer wg.Done()
			rel := r.Acquire(key)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
		}()
		time.Sleep(5 * time.Millisecond) // stagger starts so PushBack order matches spawn order
	}

	release()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// P2: acquiring one scope never blocks a different scope on the same address.
func TestRegistryScopeIndependence(t *testing.T) {
	r := NewRegistry(nil)
	keyA := NewScopedWalletKey("eth", "s1", "0xabc")
	keyB := NewScopedWalletKey("eth", "s2", "0xabc")

	releaseA := r.Acquire(keyA)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := r.Acquire(keyB)
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire on independent scope blocked")
	}
}

func TestRegistryAcquireBlocksSameKey(t *testing.T) {
	r := NewRegistry(nil)
	key := NewWalletKey("eth", "0xabc")
	release := r.Acquire(key)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		rel := r.Acquire(key)
		acquired.Store(true)
		rel()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.False(t, acquired.Load())

	release()
	<-done
	require.True(t, acquired.Load())
}

func TestRegistryReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	key := NewWalletKey("eth", "0xabc")
	release := r.Acquire(key)
	release()
	require.NotPanics(t, func() { release() })
}

func TestRegistryAcquireLeasedClampsTTL(t *testing.T) {
	r := NewRegistry(nil)
	key := NewWalletKey("eth", "0xabc")
	var fakeNow time.Time = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fakeNow }

	_, expiresLow := r.AcquireLeased(NewWalletKey("eth", "0xlow"), 0)
	require.Equal(t, fakeNow.Add(DefaultLeaseTTL), expiresLow)

	_, expiresFloor := r.AcquireLeased(NewWalletKey("eth", "0xfloor"), time.Millisecond)
	require.Equal(t, fakeNow.Add(MinLeaseTTL), expiresFloor)

	_, expiresCeil := r.AcquireLeased(key, time.Hour)
	require.Equal(t, fakeNow.Add(MaxLeaseTTL), expiresCeil)
}

// P7: a lease that outlives its TTL is reclaimed on the next reap, its
// nonce is rolled back, its lock is released (a same-key acquire no longer
// waits), and it disappears from Status.
func TestRegistryReapExpiredRollsBackAndReleases(t *testing.T) {
	var rolledBack []uint64
	r := NewRegistry(func(key WalletKey, nonce uint64) {
		rolledBack = append(rolledBack, nonce)
	})
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fakeNow }

	key := NewWalletKey("eth", "0xabc")
	lockID, _ := r.AcquireLeased(key, time.Second)
	r.SetLeaseNonce(lockID, 41)

	require.Len(t, r.Status(), 1)

	fakeNow = fakeNow.Add(2 * time.Second)
	require.Equal(t, 1, r.ReapExpired())
	require.Equal(t, []uint64{41}, rolledBack)
	require.Empty(t, r.Status())
	require.EqualValues(t, 1, r.Generation())

	done := make(chan struct{})
	go func() {
		rel := r.Acquire(key)
		rel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire after reap still blocked")
	}
}

func TestRegistryReapExpiredNoOpWhenNothingExpired(t *testing.T) {
	r := NewRegistry(nil)
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fakeNow }
	r.AcquireLeased(NewWalletKey("eth", "0xabc"), time.Minute)

	require.Equal(t, 0, r.ReapExpired())
	require.EqualValues(t, 0, r.Generation())
}

// P10: releasing the same lock ID twice succeeds once, then reports absent.
func TestRegistryReleaseLeaseTwice(t *testing.T) {
	r := NewRegistry(nil)
	lockID, _ := r.AcquireLeased(NewWalletKey("eth", "0xabc"), time.Minute)

	require.True(t, r.ReleaseLease(lockID, true))
	require.False(t, r.ReleaseLease(lockID, true))
}

func TestRegistryReleaseLeaseRollsBackWhenNotSubmitted(t *testing.T) {
	var rolledBack bool
	r := NewRegistry(func(WalletKey, uint64) { rolledBack = true })
	lockID, _ := r.AcquireLeased(NewWalletKey("eth", "0xabc"), time.Minute)
	r.SetLeaseNonce(lockID, 7)

	require.True(t, r.ReleaseLease(lockID, false))
	require.True(t, rolledBack)
}

func TestRegistryReleaseLeaseSkipsRollbackWhenSubmitted(t *testing.T) {
	var rolledBack bool
	r := NewRegistry(func(WalletKey, uint64) { rolledBack = true })
	lockID, _ := r.AcquireLeased(NewWalletKey("eth", "0xabc"), time.Minute)
	r.SetLeaseNonce(lockID, 7)

	require.True(t, r.ReleaseLease(lockID, true))
	require.False(t, rolledBack)
}
