package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ValidationCode identifies why a cart cannot be settled as is.
type ValidationCode string

const (
	CodeMissingIdentity     ValidationCode = "missing_identity"
	CodeEmptyCart           ValidationCode = "empty_cart"
	CodeInvalidQuantity     ValidationCode = "invalid_quantity"
	CodeUnresolvableVariant ValidationCode = "unresolvable_variant"
	CodeInsufficientStock   ValidationCode = "insufficient_stock"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("cart validation failed")

// ValidationError is a cart problem the caller must fix before retrying.
type ValidationError struct {
	Code   ValidationCode
	ItemID string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := string(e.Code)
	if e.ItemID != "" {
		msg = fmt.Sprintf("%s: item %s", msg, e.ItemID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError is returned when storing the order failed. Any usage
// reservation was released and the cart items are still Active.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settlement failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
