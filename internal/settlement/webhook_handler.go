package settlement

import (
	"context"
	"errors"
	"net/http"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/receipt"
	"github.com/frahmantamala/peerpay/internal/transport"
)

type ConfirmationApplier interface {
	Apply(ctx context.Context, tx Transaction) (receipt.Receipt, error)
}

// WebhookHandler receives pushes from the settlement engine.
type WebhookHandler struct {
	*transport.BaseHandler
	pending   *PendingTable
	confirmer ConfirmationApplier
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, pending *PendingTable, confirmer ConfirmationApplier) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		pending:     pending,
		confirmer:   confirmer,
	}
}

type SettlementCallbackRequest struct {
	CorrelationID string `json:"correlation_id"`
	ExecutionID   string `json:"execution_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

type ConfirmationCallbackRequest struct {
	Txid          string `json:"txid"`
	Confirmations int    `json:"confirmations"`
	Dropped       bool   `json:"dropped"`
	Reason        string `json:"reason,omitempty"`
}

type CallbackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleSettlementCallback handles POST /api/v1/settlement/callback
func (h *WebhookHandler) HandleSettlementCallback(w http.ResponseWriter, r *http.Request) {
	var req SettlementCallbackRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("received settlement callback",
		"correlation_id", req.CorrelationID,
		"execution_id", req.ExecutionID,
		"status", req.Status)

	if req.CorrelationID == "" {
		h.HandleServiceError(w, internal.NewValidationFieldError("correlation_id", "correlation_id is required", internal.ErrCodeValidationFailed))
		return
	}
	if req.Status != statusSucceeded && req.Status != statusFailed {
		h.HandleServiceError(w, internal.NewValidationFieldError("status", "status must be succeeded or failed", internal.ErrCodeValidationFailed))
		return
	}

	outcome := Outcome{
		ExecutionID: req.ExecutionID,
		Succeeded:   req.Status == statusSucceeded,
		Error:       req.Error,
	}
	if !h.pending.Resolve(req.CorrelationID, outcome) {
		h.Logger.Warn("settlement callback for unknown correlation id", "correlation_id", req.CorrelationID)
		h.HandleServiceError(w, internal.NewNotFoundError("no pending settlement for correlation id", internal.ErrCodeSettlementNotPending))
		return
	}

	h.WriteJSON(w, http.StatusOK, CallbackResponse{Status: "success", Message: "callback processed successfully"})
}

// HandleConfirmationCallback handles POST /api/v1/settlement/confirmations
func (h *WebhookHandler) HandleConfirmationCallback(w http.ResponseWriter, r *http.Request) {
	var req ConfirmationCallbackRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if req.Txid == "" {
		h.HandleServiceError(w, internal.NewValidationFieldError("txid", "txid is required", internal.ErrCodeValidationFailed))
		return
	}

	rec, err := h.confirmer.Apply(r.Context(), Transaction{
		Txid:          req.Txid,
		Confirmations: req.Confirmations,
		Dropped:       req.Dropped,
		Reason:        req.Reason,
	})
	if err != nil {
		if errors.Is(err, receipt.ErrReceiptNotFound) {
			h.HandleServiceError(w, internal.NewNotFoundError("Receipt not found", internal.ErrCodeReceiptNotFound))
			return
		}
		h.HandleServiceError(w, internal.NewInternalError("failed to apply confirmation", err))
		return
	}

	h.WriteJSON(w, http.StatusOK, rec)
}
