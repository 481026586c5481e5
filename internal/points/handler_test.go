package points

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

func TestHandlerRedeem(t *testing.T) {
	f := newFixture(t)
	f.repo.SetBalance(3, f.program.ID, 80)
	router := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(router)

	body := fmt.Sprintf(`{"customer_id":3,"program_id":%d,"tier_id":%d}`, f.program.ID, f.tier.ID)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/redeem", strings.NewReader(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	f.repo.SetBalance(3, f.program.ID, 100)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/redeem", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/customers/3/store-credit", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var credit storeCreditResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &credit))
	require.True(t, dec("10").Equal(credit.Balance))
	require.Len(t, credit.Entries, 1)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/customers/3?program_id=%d", f.program.ID), nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/redeem", strings.NewReader(`{"customer_id":3}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
