package gwerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyNil(t *testing.T) {
	require.Nil(t, DefaultClassifier().Classify(nil))
}

func TestClassifyPassesThroughExistingError(t *testing.T) {
	existing := New(KindAllowanceRequired, "already classified")
	got := DefaultClassifier().Classify(existing)
	require.Same(t, existing, got)
}

func TestClassifyPatterns(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want Kind
	}{
		{"nonce too low", "nonce too low", KindNonceStale},
		{"nonce too high", "NONCE TOO HIGH", KindNonceStale},
		{"blockhash expired", "blockhash not found", KindExpired},
		{"insufficient funds", "insufficient funds for gas", KindInsufficientFunds},
		{"allowance", "transfer amount exceeds allowance", KindAllowanceRequired},
		{"slippage", "min amount not met: slippage exceeded", KindSlippageOrLiquidity},
		{"liquidity", "insufficient liquidity for this trade", KindSlippageOrLiquidity},
		{"device rejected", "user declined the transaction", KindDeviceRejected},
		{"device locked", "device is locked, please unlock", KindDeviceLocked},
		{"wrong app", "wrong app is open on the device", KindDeviceWrongApp},
		{"unrecognized", "connection reset by peer", KindInternal},
	}
	c := DefaultClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(errors.New(tt.msg))
			require.Equal(t, tt.want, got.Kind)
			require.ErrorContains(t, got, tt.msg)
		})
	}
}

func TestMatchesAnyIgnoresEmptyPatterns(t *testing.T) {
	require.False(t, matchesAny("anything", []string{""}))
	require.True(t, matchesAny("has needle", []string{"", "needle"}))
}
