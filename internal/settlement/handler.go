package settlement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/partner"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler wires HTTP endpoints for settlements.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs settlement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleRecord)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/void", h.handleVoid)
}

type targetRequest struct {
	AccountID int64           `json:"account_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type recordRequest struct {
	PartnerType   string          `json:"partner_type" validate:"required,oneof=customer vendor"`
	PartnerID     int64           `json:"partner_id" validate:"required"`
	Direction     string          `json:"direction" validate:"omitempty,oneof=AR AP"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	CashAccountID int64           `json:"cash_account_id"`
	Strategy      string          `json:"strategy" validate:"omitempty,oneof=explicit proportional sequential"`
	Targets       []targetRequest `json:"targets" validate:"dive"`
	Note          string          `json:"note"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	targets := make([]Target, 0, len(req.Targets))
	for _, t := range req.Targets {
		targets = append(targets, Target{AccountID: t.AccountID, Amount: t.Amount})
	}
	res, err := h.service.RecordSettlement(r.Context(), RecordInput{
		PartnerType:   partner.PartnerType(req.PartnerType),
		PartnerID:     req.PartnerID,
		Direction:     partner.Direction(req.Direction),
		Amount:        req.Amount,
		Method:        req.Method,
		CashAccountID: req.CashAccountID,
		Targets:       targets,
		Strategy:      Strategy(req.Strategy),
		Note:          req.Note,
	})
	if err != nil {
		h.logger.Warn("record settlement", slog.String("partner_type", req.PartnerType), slog.Int64("partner_id", req.PartnerID), slog.Any("error", err))
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
	st, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Void(r.Context(), id)
	if err != nil {
		h.logger.Warn("void settlement", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
