package settlement

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

	"github.com/odyssey-erp/backoffice/internal/partner"
)

func TestHandlerRecordAndVoid(t *testing.T) {
	f := newFixture(t)
	f.openLine(t, partner.PartnerCustomer, 7, 1, 11, "300", 7)
	router := chi.NewRouter()
	router.Route("/settlements", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/settlements", strings.NewReader(`{"partner_type":"customer","partner_id":7,"amount":"400","method":"Till"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/settlements", strings.NewReader(`{"partner_type":"shop","partner_id":7,"amount":"1"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/settlements", strings.NewReader(`{"partner_type":"customer","partner_id":7,"amount":"150","method":"Till"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.True(t, dec("150").Equal(res.Settlement.Amount))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/settlements/1/void", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/settlements/1/void", nil))
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/settlements/2", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
