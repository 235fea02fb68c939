// Package apperr defines the error taxonomy shared by the cart, checkout and
// query services. Callers classify failures with errors.Is against the
// sentinels below; the typed errors carry the detail.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidAmount       = fmt.Errorf("invalid amount: %w", ErrValidation)
	ErrNotFound            = errors.New("not found")
	ErrOrderNotFound       = fmt.Errorf("order %w", ErrNotFound)
	ErrOrderAlreadyPlaced  = errors.New("order already placed")
	ErrCheckoutInProgress  = errors.New("checkout in progress")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrCorruptOrder        = errors.New("corrupt order")
	ErrDecode              = errors.New("decode error")

	ErrGateway            = errors.New("payment gateway error")
	ErrGatewayUnavailable = fmt.Errorf("%w: gateway unavailable", ErrGateway)
	ErrCardDeclined       = fmt.Errorf("%w: card declined", ErrGateway)
	ErrInvalidCard        = fmt.Errorf("%w: invalid card", ErrGateway)

	ErrChargedNotRecorded = errors.New("charge confirmed but not recorded")
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrValidation
}

// CheckID rejects an empty id or one that would escape its document path.
func CheckID(field, id string) error {
	if id == "" {
		return Invalid(field, field+" is required")
	}
	if strings.Contains(id, "/") {
		return Invalid(field, field+" must not contain '/'")
	}
	return nil
}

// Invalid builds a ValidationError for field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// DecodeError reports a stored document that does not match its record type.
type DecodeError struct {
	Path   string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: field %q %s", e.Path, e.Field, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// ChargedNotRecordedError is returned when the gateway confirmed a charge but
// the charge record or order status could not be persisted afterwards. The
// confirmation id is what reconciliation needs.
type ChargedNotRecordedError struct {
	OrderID        string
	ConfirmationID string
	Err            error
}

func (e *ChargedNotRecordedError) Error() string {
	return fmt.Sprintf("order %s charged (confirmation %s) but not recorded: %v", e.OrderID, e.ConfirmationID, e.Err)
}

func (e *ChargedNotRecordedError) Unwrap() []error {
	return []error{ErrChargedNotRecorded, e.Err}
}

// Retriable reports whether the operation may succeed if attempted again.
func Retriable(err error) bool {
	return errors.Is(err, ErrTransactionConflict) || errors.Is(err, ErrGatewayUnavailable)
}

// IsIntegrity reports stored data that failed to decode or check out. These
// are logged for investigation and never coerced.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrCorruptOrder) || errors.Is(err, ErrDecode)
}
