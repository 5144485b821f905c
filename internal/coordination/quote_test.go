package coordination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuoteCachePutGet(t *testing.T) {
	c := NewQuoteCache(time.Minute)
	id := c.Put("eth", "0xabc", "payload", "original")

	got, ok := c.Get(id)
	require.True(t, ok)
	require.Equal(t, "payload", got.Payload)
	require.Equal(t, "original", got.Original)
	require.Equal(t, "eth", got.Network)
}

func TestQuoteCacheGetUnknownID(t *testing.T) {
	c := NewQuoteCache(time.Minute)
	_, ok := c.Get("does-not-exist")
	require.False(t, ok)
}

func TestQuoteCacheExpiresAfterTTL(t *testing.T) {
	c := NewQuoteCache(time.Second)
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fakeNow }

	id := c.Put("eth", "0xabc", "payload", nil)
	fakeNow = fakeNow.Add(2 * time.Second)

	_, ok := c.Get(id)
	require.False(t, ok)
}

// Delete makes a quote unconditionally absent, modeling the eviction the
// orchestrator performs once execute-quote reaches a terminal outcome
// (CONFIRMED or FAILED); a still-PENDING outcome leaves the entry in place
// until Delete or TTL, exercised by TestQuoteCachePutGet above.
func TestQuoteCacheDeleteIsSingleUse(t *testing.T) {
	c := NewQuoteCache(time.Minute)
	id := c.Put("eth", "0xabc", "payload", nil)

	c.Delete(id)
	_, ok := c.Get(id)
	require.False(t, ok)

	c.Delete(id) // deleting twice is a no-op, not a panic
}
