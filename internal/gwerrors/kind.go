// Package gwerrors implements the error taxonomy of spec.md §7: a small,
// closed set of Kinds that every layer of the gateway maps into, so that
// callers get a stable vocabulary instead of raw upstream error strings.
package gwerrors

import "net/http"

// Kind is one of the closed set of error categories a client can act on.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindInsufficientFunds   Kind = "INSUFFICIENT_FUNDS"
	KindAllowanceRequired   Kind = "ALLOWANCE_REQUIRED"
	KindSlippageOrLiquidity Kind = "SLIPPAGE_OR_LIQUIDITY"
	KindExpired             Kind = "EXPIRED"
	KindNonceStale          Kind = "NONCE_STALE"
	KindDeviceRejected      Kind = "DEVICE_REJECTED"
	KindDeviceLocked        Kind = "DEVICE_LOCKED"
	KindDeviceWrongApp      Kind = "DEVICE_WRONG_APP"
	KindInternal            Kind = "INTERNAL"
)

// HTTPStatus maps a Kind to the status code the coordination API and the
// connector routes respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInsufficientFunds, KindAllowanceRequired, KindSlippageOrLiquidity,
		KindDeviceRejected, KindDeviceLocked, KindDeviceWrongApp:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusServiceUnavailable
	case KindNonceStale:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client encountering this Kind should retry
// the operation (typically after re-quoting or re-fetching a nonce) rather
// than treat it as permanently failed.
func (k Kind) Retryable() bool {
	switch k {
	case KindNonceStale, KindExpired, KindSlippageOrLiquidity:
		return true
	default:
		return false
	}
}
