package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/transport"
	"github.com/frahmantamala/peerpay/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, svc ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     svc,
	}
}

type SessionResponse struct {
	WalletID  string    `json:"wallet_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session handles GET /api/v1/session
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.HandleServiceError(w, internal.NewUnauthorizedError("missing authorization token", internal.ErrCodeInvalidToken))
		return
	}
	h.WriteJSON(w, http.StatusOK, SessionResponse{
		WalletID:  claims.WalletID,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.HandleServiceError(w, internal.NewUnauthorizedError("missing authorization token", internal.ErrCodeInvalidToken))
			return
		}

		claims, err := h.Service.ValidateAccessToken(token)
		if err != nil {
			h.Logger.Warn("token validation failed", "error", err, "path", r.URL.Path)
			code := internal.ErrCodeInvalidToken
			if errors.Is(err, ErrTokenExpired) {
				code = internal.ErrCodeTokenExpired
			}
			h.HandleServiceError(w, internal.NewUnauthorizedError(err.Error(), code))
			return
		}

		ctx := internal.ContextWithWalletID(r.Context(), claims.WalletID)
		ctx = withClaims(ctx, claims)
		ctx = logger.With(ctx, "walletID", claims.WalletID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
