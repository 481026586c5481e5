package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks caller errors that were rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock occurs when an outbound movement would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientPoints occurs when a redemption exceeds the points balance.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrInsufficientFunds occurs when a cash account cannot cover a decrease.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOverpayment occurs when a payment exceeds the outstanding balance.
	ErrOverpayment = errors.New("overpayment")
	// ErrInvalidState indicates an operation is not allowed in the document's current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrDuplicate indicates a unique key collision.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrConsistency indicates a compensation failed and derived state may have drifted.
	ErrConsistency = errors.New("consistency error")
	// ErrStorage wraps infrastructure failures.
	ErrStorage = errors.New("storage error")
	// ErrLockNotObtained indicates another request holds the document lock.
	ErrLockNotObtained = errors.New("lock not obtained")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps a repository failure with the operation name.
type StorageError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the storage class and the cause.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// CompensationFailure records a single compensation step that did not succeed.
type CompensationFailure struct {
	Step string
	Err  error
}

// ConsistencyError is returned when a saga failed and at least one compensation failed too.
type ConsistencyError struct {
	Saga     string
	Step     string
	Cause    error
	Failures []CompensationFailure
}

func (e *ConsistencyError) Error() string {
	steps := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		steps = append(steps, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	return fmt.Sprintf("consistency: saga %s failed at %s (%v); compensation failed [%s]", e.Saga, e.Step, e.Cause, strings.Join(steps, "; "))
}

// Unwrap exposes the consistency class and the original cause.
func (e *ConsistencyError) Unwrap() []error { return []error{ErrConsistency, e.Cause} }

// Warning is a non-critical outcome surfaced to callers without failing the operation.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Warning codes.
const (
	WarnUnresolvedCashAccount = "cash_account_unresolved"
	WarnRollupFailed          = "paid_rollup_failed"
	WarnAuditFailed           = "audit_failed"
)
