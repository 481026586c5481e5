package sales

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler wires HTTP endpoints for sales.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/deliveries", h.handleDeliver)
	r.Post("/{id}/refresh-paid", h.handleRefreshPaid)
	r.Post("/items/{id}/store-credit", h.handleStoreCredit)
}

type itemRequest struct {
	ProductID   int64           `json:"product_id" validate:"required"`
	PrizePoolID int64           `json:"prize_pool_id"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int64           `json:"quantity" validate:"gt=0"`
	DeliverNow  bool            `json:"deliver_now"`
}

type paymentRequest struct {
	Method        string          `json:"method"`
	CashAccountID int64           `json:"cash_account_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type createRequest struct {
	CustomerID      int64            `json:"customer_id"`
	ProgramID       int64            `json:"program_id"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	Note            string           `json:"note"`
	Items           []itemRequest    `json:"items" validate:"required,min=1,dive"`
	Payments        []paymentRequest `json:"payments" validate:"dive"`
}

type deliverRequest struct {
	Lines []struct {
		SaleItemID int64 `json:"sale_item_id" validate:"required"`
		Quantity   int64 `json:"quantity" validate:"gt=0"`
	} `json:"lines" validate:"required,min=1,dive"`
}

type storeCreditRequest struct {
	Amount          *decimal.Decimal `json:"amount"`
	RefundInventory bool             `json:"refund_inventory"`
}

type listResponse struct {
	Sales []Sale `json:"sales"`
	Page  int    `json:"page"`
	Pages int    `json:"pages"`
	Total int    `json:"total"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	sales, p, err := h.service.List(r.Context(), page, perPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Sales: sales, Page: p.Page, Pages: p.TotalPages, Total: p.Total})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	draft := Draft{CustomerID: req.CustomerID, ProgramID: req.ProgramID, DiscountPercent: req.DiscountPercent, Note: req.Note}
	for _, it := range req.Items {
		draft.Items = append(draft.Items, DraftItem{
			ProductID:   it.ProductID,
			PrizePoolID: it.PrizePoolID,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			DeliverNow:  it.DeliverNow,
		})
	}
	for _, p := range req.Payments {
		draft.Payments = append(draft.Payments, PaymentInput{Method: p.Method, CashAccountID: p.CashAccountID, Amount: p.Amount})
	}
	res, err := h.service.CreateSale(r.Context(), draft)
	if err != nil {
		h.logger.Warn("create sale", slog.Int64("customer_id", req.CustomerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteSale(r.Context(), id); err != nil {
		h.logger.Warn("delete sale", slog.Int64("sale_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req deliverRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines := make([]DeliverLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, DeliverLine{SaleItemID: l.SaleItemID, Quantity: l.Quantity})
	}
	res, err := h.service.DeliverItems(r.Context(), id, lines)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
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
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) handleStoreCredit(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req storeCreditRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ConvertSaleItemToStoreCredit(r.Context(), ConvertInput{SaleItemID: itemID, Amount: req.Amount, RefundInventory: req.RefundInventory})
	if err != nil {
		h.logger.Info("store credit conversion", slog.Int64("sale_item_id", itemID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
