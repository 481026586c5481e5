package sales

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestHandlerLifecycle(t *testing.T) {
	f := newFixture(t)
	router := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(router)

	body := fmt.Sprintf(`{"customer_id":%d,"items":[{"product_id":%d,"unit_price":"12.50","quantity":2,"deliver_now":true}],"payments":[{"method":"cash","amount":"5"}]}`,
		customerID, f.widget.ID)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.True(t, dec("25").Equal(created.Sale.Total))
	require.True(t, dec("5").Equal(created.Sale.PaidAmount))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/%d", created.Sale.ID), nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/items/%d/store-credit", created.Sale.Items[0].ID), strings.NewReader(`{"amount":"30"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/%d", created.Sale.ID), nil))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/%d", created.Sale.ID), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":[]}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerOverpaymentIsRejected(t *testing.T) {
	f := newFixture(t)
	router := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(router)

	body := fmt.Sprintf(`{"items":[{"product_id":%d,"unit_price":"1","quantity":1}],"payments":[{"method":"cash","amount":"2"}]}`, f.widget.ID)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	require.Zero(t, f.repo.Count())
}
