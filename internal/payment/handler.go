package payment

import (
	"context"
	"net/http"

	errors "github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/transport"
)

// PINHeader carries the confirmation PIN for payments above the threshold.
const PINHeader = "X-Payment-PIN"

type ServiceAPI interface {
	Execute(ctx context.Context, intent Intent) Result
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

// Pay handles POST /api/v1/payments
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Logger.Error("Pay: failed to parse request body", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	if err := req.Validate(); err != nil {
		h.Logger.Error("Pay: validation error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	walletID := errors.WalletIDFromContext(r.Context())
	result := h.Service.Execute(r.Context(), req.ToIntent(r.Header.Get(PINHeader)))

	status := http.StatusOK
	if !result.Succeeded() {
		status = result.Error.StatusCode
		h.Logger.Warn("Pay: payment failed",
			"wallet_id", walletID,
			"code", result.Error.Code,
			"kind", result.Kind)
	} else if result.Receipt != nil && result.Receipt.IsPending() {
		status = http.StatusAccepted
	}

	h.WriteJSON(w, status, result)
}

// Classify handles POST /api/v1/payments/classify
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	kind := Classify(req.Recipient)
	resp := ClassifyResponse{Recipient: req.Recipient, Kind: kind}
	switch kind {
	case TargetLightning, TargetOnchain:
		resp.Target = NormalizeTarget(req.Recipient)
	case TargetDirectory:
		resp.DirectoryKey = DirectoryKey(req.Recipient)
	}

	h.WriteJSON(w, http.StatusOK, resp)
}
