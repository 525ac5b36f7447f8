package circulation

import (
	"errors"
	"fmt"

	"github.com/erazemk/izposoja/internal/model"
)

// Kind classifies a circulation failure.
type Kind string

// Error kinds.
const (
	KindNotFound          Kind = "not_found"
	KindPolicyViolation   Kind = "policy_violation"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
)

// Machine-readable policy violation codes.
const (
	CodeBorrowerInactive       = "borrower_inactive"
	CodeMaxLoansExceeded       = "max_loans_exceeded"
	CodeOverdueBlock           = "overdue_block"
	CodeMaxRenewalsExceeded    = "max_renewals_exceeded"
	CodeHoldQueueWaiting       = "hold_queue_waiting"
	CodeDuplicateHold          = "duplicate_hold"
	CodeMaxHoldsExceeded       = "max_holds_exceeded"
	CodeHoldPickupExpired      = "hold_pickup_expired"
	CodeNotHoldOwner           = "not_hold_owner"
	CodeNotLoanOwner           = "not_loan_owner"
	CodePickupLocationInactive = "pickup_location_inactive"
	CodeItemNotAvailable       = "item_not_available"
	CodeAmbiguousHolds         = "ambiguous_holds"
)

// Error is the typed failure returned by every circulation operation.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches sentinels by kind, and by code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrPolicyViolation   = &Error{Kind: KindPolicyViolation, Message: "policy violation"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
)

// KindOf returns the kind of a circulation error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func policyViolation(code string, detail map[string]any, format string, args ...any) *Error {
	return &Error{Kind: KindPolicyViolation, Code: code, Message: fmt.Sprintf(format, args...), Detail: detail}
}

func invalidTransition(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// itemNotAvailable is the invalid transition of lending a copy that is not
// on the shelf.
func itemNotAvailable(item *model.ItemCopy, format string, args ...any) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Code:    CodeItemNotAvailable,
		Message: fmt.Sprintf(format, args...),
		Detail:  map[string]any{"item_id": item.ID, "item_status": item.Status},
	}
}

func conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}
