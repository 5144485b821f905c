package coordination

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CachedQuote is a C3 entry: a previously computed route, held just long
// enough for a client to confirm execution against it exactly once.
type CachedQuote struct {
	QuoteID  string
	Payload  any // internal/chain.RoutePayload, kept generic to avoid a cycle
	Original any // the original quote request, replayed on execute-quote
	Network  string
	Address  string
	created  time.Time
	ttl      time.Duration
}

// QuoteCache is the C3 quote cache: short-TTL, single-use-per-terminal-
// outcome storage for router-style quotes.
type QuoteCache struct {
	mu      sync.Mutex
	entries map[string]CachedQuote
	ttl     time.Duration
	now     func() time.Time
}

// NewQuoteCache constructs a cache whose entries expire after ttl.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	return &QuoteCache{
		entries: make(map[string]CachedQuote),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores a route and its originating request, returning a fresh quote
// ID for later lookup.
func (c *QuoteCache) Put(network, address string, payload, original any) string {
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = CachedQuote{
		QuoteID:  id,
		Payload:  payload,
		Original: original,
		Network:  network,
		Address:  address,
		created:  c.now(),
		ttl:      c.ttl,
	}
	return id
}

// Get returns the cached quote if it exists and has not expired. An expired
// entry is evicted as a side effect of the lookup.
func (c *QuoteCache) Get(id string) (CachedQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.entries[id]
	if !ok {
		return CachedQuote{}, false
	}
	if c.now().Sub(q.created) > q.ttl {
		delete(c.entries, id)
		return CachedQuote{}, false
	}
	return q, true
}

// Delete evicts a quote regardless of TTL, used once its execution reaches
// a terminal outcome (CONFIRMED or FAILED).
func (c *QuoteCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
