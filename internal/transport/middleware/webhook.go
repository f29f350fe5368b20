package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/transport"
)

const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret admits settlement engine pushes carrying the shared secret.
// An empty secret disables the check.
func WebhookSecret(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(WebhookSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				logger.Warn("webhook rejected: bad secret", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				base.HandleServiceError(w, internal.NewUnauthorizedError("invalid webhook secret", internal.ErrCodeInvalidToken))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
