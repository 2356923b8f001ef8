// Package apperr defines the failure taxonomy shared by the checkout domain.
//
// Validation and authentication failures are final and reported to the
// caller verbatim. Provider and infrastructure faults are retryable: the
// reconciliation path is idempotent, so a caller may simply repeat the call.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthenticated is returned when no user is associated with a request.
	ErrUnauthenticated = errors.New("user not authenticated")
	// ErrPaymentIncomplete is returned when the provider reports the payment
	// as not (yet) completed.
	ErrPaymentIncomplete = errors.New("payment not completed")
	// ErrProviderRateLimited is returned when the payment provider throttles us.
	ErrProviderRateLimited = errors.New("payment provider rate limited")
	// ErrProviderFault is returned when the payment provider is unreachable or
	// answers with a server-side error.
	ErrProviderFault = errors.New("payment provider unavailable")
	// ErrProviderRejected is returned when the payment provider refuses a
	// request as invalid (bad card, malformed parameters).
	ErrProviderRejected = errors.New("payment provider rejected request")
	// ErrTransient marks generic retryable infrastructure faults.
	ErrTransient = errors.New("temporary failure")
)

// ValidationError describes bad or missing input. Item-scoped failures carry
// the index and product id of the offending line item.
type ValidationError struct {
	Field     string
	Index     int
	ProductID string
	Message   string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Index >= 0 && e.ProductID != "":
		return fmt.Sprintf("item %d (%s): %s", e.Index, e.ProductID, e.Message)
	case e.Index >= 0:
		return fmt.Sprintf("item %d: %s", e.Index, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	default:
		return e.Message
	}
}

// Invalid returns a ValidationError for a top-level field.
func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Index: -1, Message: msg}
}

// InvalidItem returns a ValidationError naming the offending line item.
func InvalidItem(index int, productID, msg string) *ValidationError {
	return &ValidationError{Field: "items", Index: index, ProductID: productID, Message: msg}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

type transientError struct {
	op  string
	err error
}

func (e *transientError) Error() string { return e.op + ": " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
func (e *transientError) Is(target error) bool {
	return target == ErrTransient
}

// Transient marks err as a retryable infrastructure fault while keeping the
// original cause reachable through errors.Is/As. Errors already classified as
// provider faults are returned wrapped but unchanged in kind.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderFault) || errors.Is(err, ErrProviderRateLimited) || errors.Is(err, ErrTransient) {
		return errors.Wrap(err, op)
	}
	return &transientError{op: op, err: err}
}

// Retryable reports whether the caller may safely repeat the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrProviderFault) ||
		errors.Is(err, ErrProviderRateLimited)
}
