package procurement

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

	body := fmt.Sprintf(`{"vendor_id":%d,"items":[{"product_id":%d,"quantity":5,"unit_cost":"8"}]}`, vendorID, f.widget.ID)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created Purchase
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, StatusPending, created.Status)

	approve := fmt.Sprintf(`{"payments":[{"cash_account_id":%d,"amount":"50"}]}`, f.till.ID)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/%d/approve", created.ID), strings.NewReader(approve)))
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/%d/approve", created.ID), nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var approved Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &approved))
	require.Equal(t, StatusApproved, approved.Purchase.Status)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/%d/cancel", created.ID), nil))
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), created.Number)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/%d", created.ID), nil))
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/%d", created.ID), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":[]}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
