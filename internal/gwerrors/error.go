package gwerrors

import (
	"errors"
	"fmt"
)

// Error is the value every gateway-facing layer converges on: a Kind the
// client can branch on, a sanitized message safe to return verbatim, and
// the underlying cause (if any) for logs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error under kind, keeping it as the cause and
// using a generic, safe-to-return message.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: defaultMessage(kind), Cause: err}
}

// Wrapf is Wrap with an explicit message instead of the generic default.
func Wrapf(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

func defaultMessage(kind Kind) string {
	switch kind {
	case KindValidation:
		return "the request was invalid"
	case KindNotFound:
		return "the requested resource was not found"
	case KindInsufficientFunds:
		return "the wallet does not hold enough balance for this transaction"
	case KindAllowanceRequired:
		return "an approval transaction is required before this swap can execute"
	case KindSlippageOrLiquidity:
		return "the trade could not be executed within the requested slippage or available liquidity"
	case KindExpired:
		return "the transaction expired before it could be confirmed"
	case KindNonceStale:
		return "the cached nonce is stale and was invalidated; retry the request"
	case KindDeviceRejected:
		return "the hardware wallet rejected the request"
	case KindDeviceLocked:
		return "the hardware wallet is locked"
	case KindDeviceWrongApp:
		return "the wrong application is open on the hardware wallet"
	default:
		return "an internal error occurred"
	}
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
