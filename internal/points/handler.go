package points

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for the points ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs points handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers points routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/programs", h.handleCreateProgram)
	r.Post("/programs/{id}/tiers", h.handleAddTier)
	r.Get("/programs/{id}/tiers", h.handleListTiers)
	r.Post("/redeem", h.handleRedeem)
	r.Get("/customers/{id}", h.handleBalance)
	r.Get("/customers/{id}/store-credit", h.handleStoreCredit)
}

type programRequest struct {
	Name          string          `json:"name" validate:"required"`
	SpendPerPoint decimal.Decimal `json:"spend_per_point"`
	CostPerPoint  decimal.Decimal `json:"cost_per_point"`
}

type tierRequest struct {
	Name           string          `json:"name" validate:"required"`
	PointsRequired int64           `json:"points_required" validate:"gt=0"`
	RewardValue    decimal.Decimal `json:"reward_value"`
}

type redeemRequest struct {
	CustomerID int64 `json:"customer_id" validate:"required"`
	ProgramID  int64 `json:"program_id" validate:"required"`
	TierID     int64 `json:"tier_id" validate:"required"`
}

type storeCreditResponse struct {
	CustomerID int64           `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
	Entries    []CreditEntry   `json:"entries"`
}

func (h *Handler) handleCreateProgram(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	program, err := h.service.CreateProgram(r.Context(), ProgramInput{Name: req.Name, SpendPerPoint: req.SpendPerPoint, CostPerPoint: req.CostPerPoint})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, program)
}

func (h *Handler) handleAddTier(w http.ResponseWriter, r *http.Request) {
	programID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req tierRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tier, err := h.service.AddTier(r.Context(), TierInput{ProgramID: programID, Name: req.Name, PointsRequired: req.PointsRequired, RewardValue: req.RewardValue})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tier)
}

func (h *Handler) handleListTiers(w http.ResponseWriter, r *http.Request) {
	programID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tiers, err := h.service.ListTiers(r.Context(), programID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tiers)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Redeem(r.Context(), req.CustomerID, req.ProgramID, req.TierID)
	if err != nil {
		h.logger.Info("redeem points", slog.Int64("customer_id", req.CustomerID), slog.Int64("tier_id", req.TierID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	programID, err := strconv.ParseInt(r.URL.Query().Get("program_id"), 10, 64)
	if err != nil || programID <= 0 {
		httpx.RespondError(w, shared.Invalid("program_id", "must be a positive integer"))
		return
	}
	cp, err := h.service.Balance(r.Context(), customerID, programID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cp)
}

func (h *Handler) handleStoreCredit(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.StoreCreditBalance(r.Context(), customerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.StoreCreditHistory(r.Context(), customerID, 50)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, storeCreditResponse{CustomerID: customerID, Balance: balance, Entries: entries})
}
