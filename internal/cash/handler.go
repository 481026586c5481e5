package cash

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler wires HTTP endpoints for cash accounts.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs cash handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers cash routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.handleListAccounts)
	r.Post("/accounts", h.handleCreateAccount)
	r.Get("/accounts/{id}/history", h.handleHistory)
	r.Post("/transfers", h.handleTransfer)
}

type createAccountRequest struct {
	Name           string          `json:"name" validate:"required"`
	Type           AccountType     `json:"type" validate:"required,oneof=cash bank petty_cash"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	AllowNegative  bool            `json:"allow_negative"`
}

type transferRequest struct {
	FromID int64           `json:"from_id" validate:"required"`
	ToID   int64           `json:"to_id" validate:"required,nefield=FromID"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

type historyResponse struct {
	Transactions []Transaction `json:"transactions"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	Total        int           `json:"total"`
	TotalPages   int           `json:"total_pages"`
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.CreateAccount(r.Context(), AccountInput{
		Name:           req.Name,
		Type:           req.Type,
		OpeningBalance: req.OpeningBalance,
		AllowNegative:  req.AllowNegative,
	})
	if err != nil {
		h.logger.Warn("create cash account", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	txs, p, err := h.service.History(r.Context(), id, page, perPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, historyResponse{Transactions: txs, Page: p.Page, PerPage: p.PerPage, Total: p.Total, TotalPages: p.TotalPages})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Transfer(r.Context(), TransferInput{FromID: req.FromID, ToID: req.ToID, Amount: req.Amount, Note: req.Note})
	if err != nil {
		h.logger.Warn("cash transfer", slog.Int64("from", req.FromID), slog.Int64("to", req.ToID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}
