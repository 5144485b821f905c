// Package hardware implements a chain.Signer backed by an external hardware
// wallet transport, classifying the device's own rejection/lock/wrong-app
// responses into the taxonomy of internal/gwerrors instead of leaking raw
// transport errors to callers.
package hardware

import (
	"context"
	"fmt"
	"strings"

	"swapgateway/internal/chain"
	"swapgateway/internal/gwerrors"
)

// Transport is the minimal capability a hardware wallet integration needs
// to expose: sign a pre-serialized transaction message for a given
// derivation path or address, returning the raw signed bytes or a
// device-reported error string.
type Transport interface {
	SignTransaction(ctx context.Context, message []byte, address string) ([]byte, error)
}

// Signer is a chain.Signer that delegates to a hardware wallet transport.
// It never auto-approves on the caller's behalf: an allowance shortfall is
// always surfaced to the caller rather than derived and signed silently,
// per the open question decision recorded in SPEC_FULL.md.
type Signer struct {
	family    chain.Family
	transport Transport
}

// New builds a hardware Signer for the given chain family.
func New(family chain.Family, transport Transport) *Signer {
	return &Signer{family: family, transport: transport}
}

func (s *Signer) Family() chain.Family { return s.family }

func (s *Signer) IsHardware() bool { return true }

func (s *Signer) Sign(ctx context.Context, tx chain.UnsignedTx, address string) (chain.SignedTx, error) {
	raw, err := s.transport.SignTransaction(ctx, tx.Data, address)
	if err != nil {
		return chain.SignedTx{}, classifyDeviceError(err)
	}
	return chain.SignedTx{Family: s.family, Raw: raw}, nil
}

func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "reject") || strings.Contains(msg, "denied") || strings.Contains(msg, "declined"):
		return gwerrors.Wrapf(gwerrors.KindDeviceRejected, err, "the hardware wallet rejected the request")
	case strings.Contains(msg, "locked"):
		return gwerrors.Wrapf(gwerrors.KindDeviceLocked, err, "the hardware wallet is locked")
	case strings.Contains(msg, "wrong app"), strings.Contains(msg, "app not open"):
		return gwerrors.Wrapf(gwerrors.KindDeviceWrongApp, err, "the wrong application is open on the hardware wallet")
	default:
		return gwerrors.Wrap(gwerrors.KindInternal, fmt.Errorf("hardware signer: %w", err))
	}
}
