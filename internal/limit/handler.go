package limit

import (
	"context"
	"errors"
	"net/http"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	SetLimit(ctx context.Context, scope Scope, total int64, period Period) (SpendingLimit, error)
	RemoveLimit(ctx context.Context, scope Scope) error
	GetLimit(scope Scope) (SpendingLimit, error)
	ListLimits() []SpendingLimit
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

// ListLimits handles GET /api/v1/limits
func (h *Handler) ListLimits(w http.ResponseWriter, r *http.Request) {
	limits := h.Service.ListLimits()
	resp := LimitsResponse{Limits: make([]LimitResponse, 0, len(limits))}
	for _, l := range limits {
		resp.Limits = append(resp.Limits, l.ToResponse())
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// GetLimit handles GET /api/v1/limits/{scope}
func (h *Handler) GetLimit(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeParam(w, r)
	if !ok {
		return
	}
	lim, err := h.Service.GetLimit(scope)
	if err != nil {
		h.HandleServiceError(w, mapError(err))
		return
	}
	h.WriteJSON(w, http.StatusOK, lim.ToResponse())
}

// SetLimit handles PUT /api/v1/limits/{scope}
func (h *Handler) SetLimit(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeParam(w, r)
	if !ok {
		return
	}

	var req SetLimitRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	lim, err := h.Service.SetLimit(r.Context(), scope, req.TotalLimit, req.Period)
	if err != nil {
		h.Logger.Error("SetLimit: service error", "scope", scope.Key(), "error", err)
		h.HandleServiceError(w, mapError(err))
		return
	}
	h.WriteJSON(w, http.StatusOK, lim.ToResponse())
}

// RemoveLimit handles DELETE /api/v1/limits/{scope}
func (h *Handler) RemoveLimit(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeParam(w, r)
	if !ok {
		return
	}
	if err := h.Service.RemoveLimit(r.Context(), scope); err != nil {
		h.HandleServiceError(w, mapError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) scopeParam(w http.ResponseWriter, r *http.Request) (Scope, bool) {
	scope, err := ParseScope(chi.URLParam(r, "scope"))
	if err != nil {
		h.HandleServiceError(w, internal.NewValidationError(err.Error(), internal.ErrCodeInvalidScope))
		return Scope{}, false
	}
	return scope, true
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrLimitNotFound):
		return internal.NewNotFoundError("Spending limit not found", internal.ErrCodeLimitNotFound)
	case errors.Is(err, ErrInvalidAmount):
		return internal.NewValidationError(err.Error(), internal.ErrCodeInvalidAmount)
	}
	if _, ok := internal.IsAppError(err); ok {
		return err
	}
	return internal.NewInternalError("failed to update spending limit", err)
}
