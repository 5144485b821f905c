// Package coordination implements the wallet lock registry, nonce cache and
// quote cache that sit at the center of the gateway: every transactional
// operation acquires a wallet lock, reads or advances a cached nonce, and
// either creates or consumes a cached quote.
package coordination

import "strings"

// WalletKey identifies a single mutually-exclusive execution lane. Two
// requests with the same network, scope and address are serialized against
// each other; anything else runs independently.
type WalletKey struct {
	Network string
	Scope   string
	Address string
}

// NewWalletKey builds a normalized key. Scope defaults to "default" when
// empty so that unscoped and explicitly-"default"-scoped callers collide, as
// intended.
func NewWalletKey(network, address string) WalletKey {
	return NewScopedWalletKey(network, "", address)
}

// NewScopedWalletKey builds a normalized key with an explicit scope.
func NewScopedWalletKey(network, scope, address string) WalletKey {
	if scope == "" {
		scope = "default"
	}
	return WalletKey{
		Network: strings.ToLower(strings.TrimSpace(network)),
		Scope:   strings.ToLower(strings.TrimSpace(scope)),
		Address: strings.ToLower(strings.TrimSpace(address)),
	}
}
