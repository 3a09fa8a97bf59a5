package ledger

import (
	"errors"
	"fmt"
)

// ValidationError is a caller-facing rejection (bad amount, wrong card state,
// blocked action). Code is stable and machine readable, Message is for humans.
type ValidationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Invalid wraps a validation sentinel with a more specific message.
func Invalid(sentinel *ValidationError, format string, args ...any) error {
	if sentinel == nil {
		return &ValidationError{Code: "invalid", Message: fmt.Sprintf(format, args...)}
	}
	return &ValidationError{Code: sentinel.Code, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// NotFoundError reports an unknown card, payment, or chargeback.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// Is matches ErrNotFound so callers can use errors.Is without a type switch.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError.
func NotFound(resource string, key any) error {
	return &NotFoundError{Resource: resource, Key: fmt.Sprint(key)}
}

// Validation sentinels. Wrap them with Invalid for context.
var (
	ErrInvalidState      = &ValidationError{Code: "invalid_state", Message: "gift card is not active"}
	ErrInvalidAmount     = &ValidationError{Code: "invalid_amount", Message: "invalid amount"}
	ErrPartialNotAllowed = &ValidationError{Code: "partial_not_allowed", Message: "partial redemption is not allowed for this card"}
	ErrInvalidInput      = &ValidationError{Code: "invalid_input", Message: "invalid input"}
	ErrHasHistory        = &ValidationError{Code: "has_history", Message: "gift card has transaction history"}
)

// Non-validation errors.
var (
	ErrNotFound                = errors.New("not found")
	ErrConcurrentModification  = errors.New("gift card was modified concurrently")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique gift card code")
	ErrLedgerChainBroken       = errors.New("ledger chain does not reproduce card balance")
)

// IsValidation reports whether err is a caller-facing validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a concurrent modification.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
