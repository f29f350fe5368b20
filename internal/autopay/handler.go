package autopay

import (
	"context"
	"errors"
	"net/http"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Settings() Settings
	SetEnabled(ctx context.Context, enabled bool) (Settings, error)
	SetRule(ctx context.Context, rule Rule) (Rule, error)
	RemoveRule(ctx context.Context, peerID string) error
	GetRule(peerID string) (Rule, error)
	ListRules() []Rule
	Evaluate(peerID string, amount int64, methodID string) Decision
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

type settingsRequest struct {
	Enabled bool `json:"enabled"`
}

type ruleRequest struct {
	Name                string `json:"name"`
	Enabled             bool   `json:"enabled"`
	MaxPerTransaction   int64  `json:"max_per_transaction"`
	RequireConfirmation bool   `json:"require_confirmation"`
}

type evaluateRequest struct {
	PeerID   string `json:"peer_id"`
	Amount   int64  `json:"amount"`
	MethodID string `json:"method_id"`
}

type rulesResponse struct {
	Rules []Rule `json:"rules"`
}

// GetSettings handles GET /api/v1/autopay
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, h.Service.Settings())
}

// UpdateSettings handles PUT /api/v1/autopay
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	settings, err := h.Service.SetEnabled(r.Context(), req.Enabled)
	if err != nil {
		h.HandleServiceError(w, internal.NewInternalError("failed to update autopay settings", err))
		return
	}
	h.WriteJSON(w, http.StatusOK, settings)
}

// ListRules handles GET /api/v1/autopay/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, rulesResponse{Rules: h.Service.ListRules()})
}

// GetRule handles GET /api/v1/autopay/rules/{peerID}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Service.GetRule(chi.URLParam(r, "peerID"))
	if err != nil {
		h.HandleServiceError(w, mapError(err))
		return
	}
	h.WriteJSON(w, http.StatusOK, rule)
}

// PutRule handles PUT /api/v1/autopay/rules/{peerID}
func (h *Handler) PutRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if req.MaxPerTransaction < 0 {
		h.HandleServiceError(w, internal.NewValidationFieldError("max_per_transaction", "max_per_transaction cannot be negative", internal.ErrCodeInvalidAmount))
		return
	}

	rule, err := h.Service.SetRule(r.Context(), Rule{
		PeerID:              chi.URLParam(r, "peerID"),
		Name:                req.Name,
		Enabled:             req.Enabled,
		MaxPerTransaction:   req.MaxPerTransaction,
		RequireConfirmation: req.RequireConfirmation,
	})
	if err != nil {
		h.Logger.Error("PutRule: service error", "error", err)
		h.HandleServiceError(w, mapError(err))
		return
	}
	h.WriteJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/v1/autopay/rules/{peerID}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.RemoveRule(r.Context(), chi.URLParam(r, "peerID")); err != nil {
		h.HandleServiceError(w, mapError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Evaluate handles POST /api/v1/autopay/evaluate, a dry run of the policy.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if req.PeerID == "" || req.Amount <= 0 {
		h.HandleServiceError(w, internal.NewValidationError("peer_id and a positive amount are required", internal.ErrCodeValidationFailed))
		return
	}
	h.WriteJSON(w, http.StatusOK, h.Service.Evaluate(req.PeerID, req.Amount, req.MethodID))
}

func mapError(err error) error {
	if errors.Is(err, ErrRuleNotFound) {
		return internal.NewNotFoundError("Autopay rule not found", internal.ErrCodeRuleNotFound)
	}
	if _, ok := internal.IsAppError(err); ok {
		return err
	}
	return internal.NewValidationError(err.Error(), internal.ErrCodeValidationFailed)
}
