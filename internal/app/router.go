package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-erp/backoffice/internal/audit/http"
	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/points"
	"github.com/odyssey-erp/backoffice/internal/procurement"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/settlement"
	"github.com/odyssey-erp/backoffice/jobs"
)

// Pinger reports backend health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Services   *Services
	Metrics    *observability.Metrics
	JobHandler *jobs.Handler
	Database   Pinger
}

// NewRouter constructs the chi.Router with backoffice defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				params.Logger.Warn("healthz database", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if svc := params.Services; svc != nil {
		r.Route("/inventory", inventory.NewHandler(params.Logger, svc.Inventory).MountRoutes)
		r.Route("/cash", cash.NewHandler(params.Logger, svc.Cash).MountRoutes)
		r.Route("/sales", sales.NewHandler(params.Logger, svc.Sales).MountRoutes)
		r.Route("/purchases", procurement.NewHandler(params.Logger, svc.Procurement).MountRoutes)
		r.Route("/settlements", settlement.NewHandler(params.Logger, svc.Settlements).MountRoutes)
		r.Route("/points", points.NewHandler(params.Logger, svc.Points).MountRoutes)
		r.Route("/audit", audithttp.NewHandler(params.Logger, svc.Audit).MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
