package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: fmt.Errorf("sale: %w", shared.ErrNotFound), status: http.StatusNotFound},
		{err: shared.Invalid("amount", "must be positive"), status: http.StatusBadRequest},
		{err: fmt.Errorf("inventory: %w", shared.ErrInsufficientStock), status: http.StatusUnprocessableEntity},
		{err: shared.ErrOverpayment, status: http.StatusUnprocessableEntity},
		{err: shared.ErrInvalidState, status: http.StatusConflict},
		{err: &shared.ConsistencyError{Saga: "sale", Cause: errors.New("x")}, status: http.StatusInternalServerError},
		{err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
	}

	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("secret dsn"))
	require.NotContains(t, rr.Body.String(), "secret")
}

type bindTarget struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	Method string  `json:"method" validate:"required"`
}

func TestBind(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":10,"method":"cash"}`))
	var target bindTarget
	require.NoError(t, Bind(req, &target))
	require.Equal(t, "cash", target.Method)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0,"method":"cash"}`))
	err := Bind(req, &bindTarget{})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "amount")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":`))
	require.ErrorIs(t, Bind(req, &bindTarget{}), shared.ErrValidation)
}

func TestIDParam(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "42")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	id, err := IDParam(req, "id")
	require.NoError(t, err)
	require.EqualValues(t, 42, id)

	rctx.URLParams = chi.RouteParams{}
	rctx.URLParams.Add("id", "abc")
	_, err = IDParam(req, "id")
	require.ErrorIs(t, err, shared.ErrValidation)
}
