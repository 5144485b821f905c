package gwerrors

import "strings"

// Classifier turns opaque upstream error strings (from an RPCAdapter or
// Signer) into a taxonomy Kind. The pattern lists are exported so a chain
// adapter can extend them with family-specific phrasing without forking the
// classifier itself.
type Classifier struct {
	NonceStalePatterns    []string
	ExpiredPatterns       []string
	SlippagePatterns      []string
	LiquidityPatterns     []string
	InsufficientFunds     []string
	AllowancePatterns     []string
	DeviceRejectedPattern []string
	DeviceLockedPattern   []string
	DeviceWrongAppPattern []string
}

// DefaultClassifier covers the phrasing spec.md §4.4.1/§7 calls out plus the
// common EVM and Solana-style RPC rejection strings.
func DefaultClassifier() Classifier {
	return Classifier{
		NonceStalePatterns: []string{
			"nonce too low", "nonce too high", "invalid nonce", "old nonce", "nonce has already been used",
		},
		ExpiredPatterns: []string{
			"blockhash not found", "block height exceeded", "transaction expired", "deadline exceeded",
		},
		SlippagePatterns: []string{
			"slippage", "price impact", "min amount", "too little received", "excessive input amount",
		},
		LiquidityPatterns: []string{
			"insufficient liquidity", "no route", "liquidity too low",
		},
		InsufficientFunds: []string{
			"insufficient funds", "insufficient balance", "transfer amount exceeds balance",
		},
		AllowancePatterns: []string{
			"allowance", "transfer amount exceeds allowance", "not approved",
		},
		DeviceRejectedPattern: []string{"rejected", "denied", "user declined"},
		DeviceLockedPattern:   []string{"locked", "please unlock"},
		DeviceWrongAppPattern: []string{"wrong app", "wrong application", "app not open"},
	}
}

// Classify maps err to a taxonomy Error. Unrecognized errors become
// KindInternal with the original error retained as the cause for logging.
func (c Classifier) Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if existing, ok := As(err); ok {
		return existing
	}
	msg := strings.ToLower(err.Error())
	switch {
	case matchesAny(msg, c.NonceStalePatterns):
		return Wrap(KindNonceStale, err)
	case matchesAny(msg, c.ExpiredPatterns):
		return Wrap(KindExpired, err)
	case matchesAny(msg, c.InsufficientFunds):
		return Wrap(KindInsufficientFunds, err)
	case matchesAny(msg, c.AllowancePatterns):
		return Wrap(KindAllowanceRequired, err)
	case matchesAny(msg, c.SlippagePatterns), matchesAny(msg, c.LiquidityPatterns):
		return Wrap(KindSlippageOrLiquidity, err)
	case matchesAny(msg, c.DeviceRejectedPattern):
		return Wrap(KindDeviceRejected, err)
	case matchesAny(msg, c.DeviceLockedPattern):
		return Wrap(KindDeviceLocked, err)
	case matchesAny(msg, c.DeviceWrongAppPattern):
		return Wrap(KindDeviceWrongApp, err)
	default:
		return Wrap(KindInternal, err)
	}
}

func matchesAny(haystack string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}
