// Package failure defines the typed error kinds returned by lifecycle operations.
package failure

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a failure so callers can react without parsing messages
type Kind string

const (
	KindNotFound               Kind = "NOT_FOUND"
	KindPermissionDenied       Kind = "PERMISSION_DENIED"
	KindIllegalTransition      Kind = "ILLEGAL_TRANSITION"
	KindInsufficientFunds      Kind = "INSUFFICIENT_FUNDS"
	KindConcurrentModification Kind = "CONCURRENT_MODIFICATION"
	KindDuplicateAttempt       Kind = "DUPLICATE_ATTEMPT"
	KindBudgetUnavailable      Kind = "BUDGET_UNAVAILABLE"
	KindInvalidRequest         Kind = "INVALID_REQUEST"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// Error is a classified failure
type Error struct {
	Kind    Kind
	Message string
	// Shortfall is set for INSUFFICIENT_FUNDS: requested minus available
	Shortfall decimal.Decimal
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied}
	ErrIllegalTransition      = &Error{Kind: KindIllegalTransition}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrDuplicateAttempt       = &Error{Kind: KindDuplicateAttempt}
	ErrBudgetUnavailable      = &Error{Kind: KindBudgetUnavailable}
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest}
)

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity or budget
func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

// PermissionDenied reports a role that may not perform a transition
func PermissionDenied(format string, args ...interface{}) error {
	return newf(KindPermissionDenied, format, args...)
}

// IllegalTransition reports a transition not legal from the current status
func IllegalTransition(format string, args ...interface{}) error {
	return newf(KindIllegalTransition, format, args...)
}

// ConcurrentModification reports a lost compare-and-swap
func ConcurrentModification(format string, args ...interface{}) error {
	return newf(KindConcurrentModification, format, args...)
}

// BudgetUnavailable reports a budget that is expired or suspended
func BudgetUnavailable(format string, args ...interface{}) error {
	return newf(KindBudgetUnavailable, format, args...)
}

// InvalidRequest reports malformed input
func InvalidRequest(format string, args ...interface{}) error {
	return newf(KindInvalidRequest, format, args...)
}

// DuplicateAttempt reports an attempt id that was already applied
func DuplicateAttempt(format string, args ...interface{}) error {
	return newf(KindDuplicateAttempt, format, args...)
}

// InsufficientFunds reports a debit larger than the available balance
func InsufficientFunds(budgetID string, requested, available decimal.Decimal) error {
	return &Error{
		Kind:      KindInsufficientFunds,
		Message:   fmt.Sprintf("budget %s has %s available, %s requested", budgetID, available.String(), requested.String()),
		Shortfall: requested.Sub(available),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ShortfallOf returns the shortfall carried by an INSUFFICIENT_FUNDS error
func ShortfallOf(err error) (decimal.Decimal, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindInsufficientFunds {
		return e.Shortfall, true
	}
	return decimal.Zero, false
}

// IsRetryable reports whether repeating the same request may succeed
func IsRetryable(err error) bool {
	return KindOf(err) == KindConcurrentModification
}
