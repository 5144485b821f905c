package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedNonceFetcher struct {
	pending uint64
}

func (f fixedNonceFetcher) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	return f.pending, nil
}

// P3: serialized NextNonce calls against a fixed chain pending value return
// p, p+1, p+2, ...
func TestNonceCacheMonotonicUnderSerialUse(t *testing.T) {
	c := NewNonceCache(DefaultMaxNonceGap, DefaultMaxCacheAge)
	key := NewWalletKey("eth", "0xabc")
	fetcher := fixedNonceFetcher{pending: 100}

	for i := uint64(0); i < 5; i++ {
		n, err := c.NextNonce(context.Background(), fetcher, key)
		require.NoError(t, err)
		require.Equal(t, 100+i, n)
	}
}

// P4: if the chain's pending value jumps ahead of the cache, the next call
// returns the chain's value, not the cache's.
func TestNonceCachePendingDominance(t *testing.T) {
	c := NewNonceCache(DefaultMaxNonceGap, DefaultMaxCacheAge)
	key := NewWalletKey("eth", "0xabc")

	n, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 10}, key)
	require.NoError(t, err)
	require.EqualValues(t, 10, n)

	n, err = c.NextNonce(context.Background(), fixedNonceFetcher{pending: 50}, key)
	require.NoError(t, err)
	require.EqualValues(t, 50, n)
}

// P5: once cached_next - pending >= maxGap, the cache resets to pending.
func TestNonceCacheStaleResetOnGap(t *testing.T) {
	c := NewNonceCache(3, 0)
	key := NewWalletKey("eth", "0xabc")

	for i := 0; i < 3; i++ {
		_, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 0}, key)
		require.NoError(t, err)
	}
	// cache's nextNonce is now 3; pending stalled at 0 gives a gap of 3.
	n, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 0}, key)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

// P5: once age >= maxAge, the cache resets to pending regardless of gap.
func TestNonceCacheStaleResetOnAge(t *testing.T) {
	c := NewNonceCache(0, time.Minute)
	key := NewWalletKey("eth", "0xabc")
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fakeNow }

	n, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 5}, key)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	fakeNow = fakeNow.Add(2 * time.Minute)
	n, err = c.NextNonce(context.Background(), fixedNonceFetcher{pending: 5}, key)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
}

func TestNonceCacheZeroTunablesDisableStaleness(t *testing.T) {
	c := NewNonceCache(0, 0)
	key := NewWalletKey("eth", "0xabc")

	for i := uint64(0); i < 10; i++ {
		n, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 0}, key)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}
}

// P6: rollback(n) applies iff next_nonce == n+1 at call time.
func TestNonceCacheRollbackConditionality(t *testing.T) {
	c := NewNonceCache(DefaultMaxNonceGap, DefaultMaxCacheAge)
	key := NewWalletKey("eth", "0xabc")

	n, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 10}, key)
	require.NoError(t, err)
	require.EqualValues(t, 10, n)

	require.True(t, c.Rollback(key, 10))

	next, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 10}, key)
	require.NoError(t, err)
	require.EqualValues(t, 10, next)
}

func TestNonceCacheRollbackNoOpWhenStale(t *testing.T) {
	c := NewNonceCache(DefaultMaxNonceGap, DefaultMaxCacheAge)
	key := NewWalletKey("eth", "0xabc")

	_, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 10}, key)
	require.NoError(t, err)
	_, err = c.NextNonce(context.Background(), fixedNonceFetcher{pending: 10}, key)
	require.NoError(t, err)

	// cache is now at 12; rolling back as if nonce 10 was the last issued
	// no longer matches (next_nonce == 12, not 11), so it's a no-op.
	require.False(t, c.Rollback(key, 10))

	next, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 10}, key)
	require.NoError(t, err)
	require.EqualValues(t, 12, next)
}

func TestNonceCacheRollbackUnknownKeyIsNoOp(t *testing.T) {
	c := NewNonceCache(DefaultMaxNonceGap, DefaultMaxCacheAge)
	require.False(t, c.Rollback(NewWalletKey("eth", "0xnever-used"), 0))
}

func TestNonceCacheInvalidateForcesRebuild(t *testing.T) {
	c := NewNonceCache(DefaultMaxNonceGap, DefaultMaxCacheAge)
	key := NewWalletKey("eth", "0xabc")

	_, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 10}, key)
	require.NoError(t, err)
	c.Invalidate(key)

	n, err := c.NextNonce(context.Background(), fixedNonceFetcher{pending: 3}, key)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}
