// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Sentinel errors for the HTTP layer itself.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusFor maps a domain error onto an HTTP status and problem title.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrConsistency):
		return http.StatusInternalServerError, "Ledger Inconsistent"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict, "Duplicate"
	case errors.Is(err, shared.ErrLockNotObtained):
		return http.StatusConflict, "Busy"
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, "Invalid State"
	case errors.Is(err, shared.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "Insufficient Stock"
	case errors.Is(err, shared.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity, "Insufficient Points"
	case errors.Is(err, shared.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient Funds"
	case errors.Is(err, shared.ErrOverpayment):
		return http.StatusUnprocessableEntity, "Overpayment"
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal failures never leak their message.
func RespondError(w http.ResponseWriter, err error) {
	status, title := StatusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	Problem(w, status, title, detail)
}
