package orchestrator

import (
	"fmt"
	"sync"

	"swapgateway/internal/chain"
)

// NetworkAdapters bundles the three external-collaborator adapters a single
// network needs, per spec.md §6.3.
type NetworkAdapters struct {
	Family Family
	RPC    chain.RPCAdapter
	Signer chain.Signer
	Router chain.RouteBuilder
}

// Family is a type alias kept local to orchestrator so call sites read
// naturally as orchestrator.Family instead of reaching into chain for a
// name that is really about network configuration.
type Family = chain.Family

// AdapterFactory lazily builds the adapters for a network the first time it
// is requested. Networks are configured once at startup and their adapters
// (an RPC client, a signer, a route builder) are expensive enough to want
// singleton, on-demand construction, per spec.md §9's design note.
type AdapterFactory func(network string) (NetworkAdapters, error)

// NetworkRegistry lazily initializes and caches NetworkAdapters per network
// name, for the lifetime of the process.
type NetworkRegistry struct {
	mu      sync.Mutex
	factory AdapterFactory
	cache   map[string]NetworkAdapters
}

// NewNetworkRegistry builds a registry backed by factory.
func NewNetworkRegistry(factory AdapterFactory) *NetworkRegistry {
	return &NetworkRegistry{factory: factory, cache: make(map[string]NetworkAdapters)}
}

// Get returns the adapters for network, building and caching them on first
// use.
func (r *NetworkRegistry) Get(network string) (NetworkAdapters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.cache[network]; ok {
		return a, nil
	}
	a, err := r.factory(network)
	if err != nil {
		return NetworkAdapters{}, fmt.Errorf("initialize adapters for network %q: %w", network, err)
	}
	r.cache[network] = a
	return a, nil
}
