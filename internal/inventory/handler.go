package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/products", h.handleCreateProduct)
	r.Get("/products/{id}", h.handleGetProduct)
	r.Get("/products/{id}/history", h.handleHistory)
	r.Post("/products/{id}/corrections", h.handleCorrection)
}

type createProductRequest struct {
	SKU           string          `json:"sku"`
	Name          string          `json:"name" validate:"required"`
	FallbackCost  decimal.Decimal `json:"fallback_cost"`
	AllowNegative bool            `json:"allow_negative"`
	OpeningStock  int64           `json:"opening_stock" validate:"gte=0"`
	OpeningCost   decimal.Decimal `json:"opening_cost"`
}

type correctionRequest struct {
	Delta          int64  `json:"delta" validate:"ne=0"`
	Memo           string `json:"memo" validate:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), ProductInput{
		SKU:           req.SKU,
		Name:          req.Name,
		FallbackCost:  req.FallbackCost,
		AllowNegative: req.AllowNegative,
		OpeningStock:  req.OpeningStock,
		OpeningCost:   req.OpeningCost,
	})
	if err != nil {
		h.logger.Warn("create product", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.History(r.Context(), id, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCorrection(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req correctionRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mv, err := h.service.RecordMovement(r.Context(), MovementInput{
		ProductID:      id,
		Delta:          req.Delta,
		RefType:        RefCorrection,
		Memo:           req.Memo,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Warn("stock correction", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}
