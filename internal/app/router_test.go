package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/sales"
	_ "github.com/odyssey-erp/backoffice/internal/testing/guard"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func newTestRouter(t *testing.T, db Pinger) (http.Handler, *Services) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := validConfig()
	cfg.RateLimit = 1000
	metrics := observability.NewMetrics()
	svc, err := BuildServices(cfg, logger, Backends{Metrics: metrics})
	require.NoError(t, err)
	return NewRouter(RouterParams{Logger: logger, Config: cfg, Services: svc, Metrics: metrics, Database: db}), svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rr := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	h, _ = newTestRouter(t, stubPinger{err: errors.New("down")})
	rr = do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterSaleFlowOverHTTP(t *testing.T) {
	h, svc := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/inventory/products", `{"name":"Widget","opening_stock":10,"opening_cost":"5"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var product inventory.Product
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &product))

	rr = do(t, h, http.MethodPost, "/cash/accounts", `{"name":"Till","type":"cash","opening_balance":"100"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var till cash.Account
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &till))

	body := fmt.Sprintf(`{"items":[{"product_id":%d,"unit_price":"12","quantity":2,"deliver_now":true}],"payments":[{"cash_account_id":%d,"amount":"24"}]}`, product.ID, till.ID)
	rr = do(t, h, http.MethodPost, "/sales/", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res sales.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.True(t, res.Sale.IsPaid)
	require.NotEmpty(t, res.Sale.Number)

	got, err := svc.Inventory.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	require.EqualValues(t, 8, got.Stock)
	acc, err := svc.Cash.GetAccount(context.Background(), till.ID)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(124).Equal(acc.Balance), "balance %s", acc.Balance)

	rr = do(t, h, http.MethodGet, fmt.Sprintf("/sales/%d", res.Sale.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/audit/?entity=cash_account", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "cash:adjust")

	rr = do(t, h, http.MethodGet, "/sales/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `backoffice_saga_runs_total{outcome="committed",saga="create_sale"}`)
}

func TestRouterMountsEveryModule(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	for _, path := range []string{"/cash/accounts", "/sales/", "/purchases/", "/points/customers/1/store-credit"} {
		rr := do(t, h, http.MethodGet, path, "")
		require.NotEqual(t, http.StatusNotFound, rr.Code, path)
		require.NotEqual(t, http.StatusMethodNotAllowed, rr.Code, path)
	}
	rr := do(t, h, http.MethodPost, "/points/programs", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodGet, "/settlements/1", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "json")
}

func TestBuildServicesRequiresPoolForPostgres(t *testing.T) {
	cfg := validConfig()
	cfg.StoreDriver = DriverPostgres
	_, err := BuildServices(cfg, nil, Backends{})
	require.ErrorContains(t, err, "requires a database pool")

	cfg = validConfig()
	cfg.NumberingBackend = "redis"
	_, err = BuildServices(cfg, nil, Backends{})
	require.ErrorContains(t, err, "requires a redis client")
}

func TestActorHeaderReachesAuditTrail(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/cash/accounts", strings.NewReader(`{"name":"Bank","type":"bank","opening_balance":"50"}`))
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set(ActorHeader, "77")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/audit/?action=cash:adjust", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"actor_id":77`)
}
