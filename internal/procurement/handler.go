package procurement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler wires HTTP endpoints for purchases.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchase routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Post("/{id}/refresh-paid", h.handleRefreshPaid)
}

type createRequest struct {
	VendorID int64  `json:"vendor_id" validate:"required"`
	Note     string `json:"note"`
	Items    []struct {
		ProductID int64           `json:"product_id" validate:"required"`
		Quantity  int64           `json:"quantity" validate:"gt=0"`
		UnitCost  decimal.Decimal `json:"unit_cost"`
	} `json:"items" validate:"required,min=1,dive"`
}

type approveRequest struct {
	Lines []struct {
		PurchaseItemID int64 `json:"purchase_item_id" validate:"required"`
		Quantity       int64 `json:"quantity" validate:"gt=0"`
	} `json:"lines" validate:"dive"`
	Payments []struct {
		Method        string          `json:"method"`
		CashAccountID int64           `json:"cash_account_id"`
		Amount        decimal.Decimal `json:"amount"`
	} `json:"payments" validate:"dive"`
}

type listResponse struct {
	Purchases []Purchase `json:"purchases"`
	Page      int        `json:"page"`
	Pages     int        `json:"pages"`
	Total     int        `json:"total"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	purchases, p, err := h.service.List(r.Context(), page, perPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Purchases: purchases, Page: p.Page, Pages: p.TotalPages, Total: p.Total})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	draft := Draft{VendorID: req.VendorID, Note: req.Note}
	for _, it := range req.Items {
		draft.Items = append(draft.Items, DraftItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitCost: it.UnitCost})
	}
	purchase, err := h.service.CreatePurchase(r.Context(), draft)
	if err != nil {
		h.logger.Warn("create purchase", slog.Int64("vendor_id", req.VendorID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchase)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	purchase, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req approveRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	lines := make([]ReceiveLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, ReceiveLine{PurchaseItemID: l.PurchaseItemID, Quantity: l.Quantity})
	}
	payments := make([]PaymentInput, 0, len(req.Payments))
	for _, p := range req.Payments {
		payments = append(payments, PaymentInput{Method: p.Method, CashAccountID: p.CashAccountID, Amount: p.Amount})
	}
	res, err := h.service.ApprovePurchase(r.Context(), id, lines, payments...)
	if err != nil {
		h.logger.Warn("approve purchase", slog.Int64("purchase_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	purchase, err := h.service.CancelPurchase(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePurchase(r.Context(), id); err != nil {
		h.logger.Warn("delete purchase", slog.Int64("purchase_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshPaid(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RefreshPaid(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	purchase, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}
