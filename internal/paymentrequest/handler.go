package paymentrequest

import (
	"context"
	"errors"
	"net/http"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/payment"
	"github.com/frahmantamala/peerpay/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Create(ctx context.Context, in CreateRequest) (Request, error)
	Get(id string) (Request, error)
	List(status Status) []Request
	Decline(ctx context.Context, id, reason string) (Request, error)
	Pay(ctx context.Context, id, pin string, preAuthorized bool) (Request, payment.Result, error)
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

// CreateRequest handles POST /api/v1/payment-requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	created, err := h.Service.Create(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, mapError(err))
		return
	}
	h.WriteJSON(w, http.StatusCreated, created)
}

// ListRequests handles GET /api/v1/payment-requests
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	switch status {
	case "", StatusPending, StatusPaid, StatusDeclined:
	default:
		h.HandleServiceError(w, internal.NewValidationError("status must be one of pending, paid, declined", internal.ErrCodeValidationFailed))
		return
	}

	requests := h.Service.List(status)
	h.WriteJSON(w, http.StatusOK, ListResponse{Requests: requests, Count: len(requests)})
}

// GetRequest handles GET /api/v1/payment-requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, mapError(err))
		return
	}
	h.WriteJSON(w, http.StatusOK, req)
}

// PayRequest handles POST /api/v1/payment-requests/{id}/pay
func (h *Handler) PayRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pin := r.Header.Get(payment.PINHeader)

	req, result, err := h.Service.Pay(r.Context(), id, pin, false)
	if err != nil {
		h.HandleServiceError(w, mapError(err))
		return
	}

	status := http.StatusOK
	switch {
	case !result.Succeeded():
		status = result.Error.StatusCode
	case result.Receipt != nil && result.Receipt.IsPending():
		status = http.StatusAccepted
	}
	h.WriteJSON(w, status, PayResponse{Request: req, Payment: result})
}

// DeclineRequest handles POST /api/v1/payment-requests/{id}/decline
func (h *Handler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	var body DeclineRequest
	if r.ContentLength != 0 {
		if err := h.DecodeJSON(r, &body); err != nil {
			h.HandleServiceError(w, err)
			return
		}
	}

	req, err := h.Service.Decline(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		h.HandleServiceError(w, mapError(err))
		return
	}
	h.WriteJSON(w, http.StatusOK, req)
}

func mapError(err error) error {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return internal.NewForbiddenError("This payment was denied by your autopay rules", internal.ErrCodePaymentDenied).
			WithDetails(map[string]interface{}{"reason": denied.Reason})
	}
	switch {
	case errors.Is(err, ErrRequestNotFound):
		return internal.NewNotFoundError("Payment request not found", internal.ErrCodeRequestNotFound)
	case errors.Is(err, ErrNotPending):
		return internal.NewConflictError("Payment request is no longer pending", internal.ErrCodeInvalidRequestStatus)
	case errors.Is(err, ErrInFlight):
		return internal.NewConflictError("Payment request is already being paid", internal.ErrCodeRequestInFlight)
	}
	if _, ok := internal.IsAppError(err); ok {
		return err
	}
	return internal.NewInternalError("failed to process payment request", err)
}
