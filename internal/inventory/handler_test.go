package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r, svc
}

func TestHandlerCreateAndCorrect(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"name":"Mug","opening_stock":3,"opening_cost":"4.5"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var product Product
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &product))
	require.EqualValues(t, 3, product.Stock)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/products/1/corrections", strings.NewReader(`{"delta":-5,"memo":"stock count"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/products/1/corrections", strings.NewReader(`{"delta":-1,"memo":"breakage"}`)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/1/history?limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []LogEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.EqualValues(t, -1, entries[0].Delta)
}

func TestHandlerValidationAndNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"opening_stock":1}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/77", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/abc", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
