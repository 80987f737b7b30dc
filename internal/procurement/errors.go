package procurement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates a missing document or line.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("procurement: validation failed")
	// ErrInvalidState indicates a lifecycle transition that is not allowed.
	ErrInvalidState = errors.New("procurement: invalid state")
	// ErrQuantityExceedsRequest indicates ordering more than a request line has outstanding.
	ErrQuantityExceedsRequest = errors.New("procurement: quantity exceeds request")
	// ErrQuantityExceedsOrder indicates a receipt line larger than the pending order quantity.
	ErrQuantityExceedsOrder = errors.New("procurement: quantity exceeds order")
	// ErrOverReceipt indicates a receipt that would push received past ordered.
	ErrOverReceipt = errors.New("procurement: over receipt")
	// ErrOverpayment indicates a payment larger than the invoice balance.
	ErrOverpayment = errors.New("procurement: overpayment")
	// ErrDuplicateRequest indicates a replayed idempotency key.
	ErrDuplicateRequest = errors.New("procurement: duplicate request")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("procurement: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap ties the error to ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports an action attempted from the wrong status.
type TransitionError struct {
	Entity string
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("procurement: cannot %s %s in status %s", e.Action, e.Entity, e.From)
}

// Unwrap ties the error to ErrInvalidState.
func (e *TransitionError) Unwrap() error { return ErrInvalidState }

// QuantityError reports a quantity bound violation. Kind is one of
// ErrQuantityExceedsRequest, ErrQuantityExceedsOrder or ErrOverReceipt.
type QuantityError struct {
	Kind      error
	ItemID    int64
	Requested int64
	Available int64
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("%s: item %d requested %d, available %d (excess %d)", e.Kind, e.ItemID, e.Requested, e.Available, e.Excess())
}

// Unwrap returns the kind sentinel.
func (e *QuantityError) Unwrap() error { return e.Kind }

// Excess is the amount over the bound.
func (e *QuantityError) Excess() int64 {
	return e.Requested - e.Available
}

// OverpaymentError reports a payment larger than the open balance.
type OverpaymentError struct {
	InvoiceID int64
	Amount    decimal.Decimal
	Balance   decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("%s: invoice %d payment %s exceeds balance %s by %s", ErrOverpayment, e.InvoiceID,
		e.Amount.StringFixed(2), e.Balance.StringFixed(2), e.Excess().StringFixed(2))
}

// Unwrap returns ErrOverpayment.
func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// Excess is the amount above the balance.
func (e *OverpaymentError) Excess() decimal.Decimal {
	return e.Amount.Sub(e.Balance)
}
