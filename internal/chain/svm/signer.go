package svm

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"swapgateway/internal/chain"
)

// SoftwareSigner signs signature-hash family transactions with an in-memory
// ed25519 key. No third-party signing library for this chain family exists
// anywhere in the retrieval pack, so this uses the standard library's
// crypto/ed25519 directly — the same primitive the family's own wallets use.
type SoftwareSigner struct {
	key ed25519.PrivateKey
}

// NewSoftwareSigner wraps a raw 64-byte ed25519 private key.
func NewSoftwareSigner(key ed25519.PrivateKey) (*SoftwareSigner, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signature-hash signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	return &SoftwareSigner{key: key}, nil
}

func (s *SoftwareSigner) Family() chain.Family { return chain.FamilySignatureHash }

func (s *SoftwareSigner) IsHardware() bool { return false }

// Sign appends a 64-byte ed25519 signature over the unsigned transaction's
// message bytes ahead of the message itself, mirroring the family's own
// signature-prefixed wire format.
func (s *SoftwareSigner) Sign(ctx context.Context, tx chain.UnsignedTx, address string) (chain.SignedTx, error) {
	if tx.RecentBlockhash == "" {
		return chain.SignedTx{}, fmt.Errorf("signature-hash family transaction missing recent blockhash")
	}
	sig := ed25519.Sign(s.key, tx.Data)
	raw := make([]byte, 0, len(sig)+len(tx.Data))
	raw = append(raw, sig...)
	raw = append(raw, tx.Data...)
	return chain.SignedTx{Family: chain.FamilySignatureHash, Raw: raw}, nil
}
