package cash

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

func TestHandlerAccountsAndTransfers(t *testing.T) {
	svc, _ := newTestService()
	router := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(router)

	for _, body := range []string{
		`{"name":"Till","type":"cash","opening_balance":"100"}`,
		`{"name":"Bank","type":"bank"}`,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(body)))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"name":"Safe","type":"vault"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(`{"from_id":1,"to_id":2,"amount":"150"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(`{"from_id":1,"to_id":2,"amount":"60"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/accounts/1/history?per_page=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var history historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Equal(t, 2, history.Total)
	require.Len(t, history.Transactions, 1)
	require.Equal(t, TxTransfer, history.Transactions[0].TxType)
	require.True(t, dec("40").Equal(history.Transactions[0].BalanceAfter))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/accounts/9/history", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
