package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/peerpay/api"
	"github.com/frahmantamala/peerpay/internal/auth"
	"github.com/frahmantamala/peerpay/internal/autopay"
	"github.com/frahmantamala/peerpay/internal/limit"
	"github.com/frahmantamala/peerpay/internal/metrics"
	"github.com/frahmantamala/peerpay/internal/payment"
	"github.com/frahmantamala/peerpay/internal/paymentrequest"
	"github.com/frahmantamala/peerpay/internal/receipt"
	"github.com/frahmantamala/peerpay/internal/settlement"
	"github.com/frahmantamala/peerpay/internal/transport/middleware"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Handlers is everything the router mounts. Nil handlers are skipped.
type Handlers struct {
	Health         *HealthHandler
	Auth           *auth.Handler
	Payment        *payment.Handler
	PaymentRequest *paymentrequest.Handler
	Limit          *limit.Handler
	Autopay        *autopay.Handler
	Receipt        *receipt.Handler
	Webhook        *settlement.WebhookHandler
}

type RouterConfig struct {
	WebhookSecret  string
	MetricsEnabled bool
	MetricsPath    string
	Validator      *middleware.RequestValidator
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, cfg RouterConfig, logger *slog.Logger) {
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPISpec)
	})
	router.Handle("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yml"),
		httpSwagger.DocExpansion("list"),
	))

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		if cfg.Validator != nil {
			r.Use(cfg.Validator.Middleware)
		}

		if h.Health != nil {
			r.Get("/health", h.Health.Health)
			r.Get("/ping", h.Health.Ping)
		}

		if h.Webhook != nil {
			r.Group(func(wr chi.Router) {
				wr.Use(middleware.WebhookSecret(cfg.WebhookSecret, logger))
				wr.Post("/settlement/callback", h.Webhook.HandleSettlementCallback)
				wr.Post("/settlement/confirmations", h.Webhook.HandleConfirmationCallback)
			})
		}

		if h.Auth == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			pr.Get("/session", h.Auth.Session)

			if h.Payment != nil {
				pr.Post("/payments", h.Payment.Pay)
				pr.Post("/payments/classify", h.Payment.Classify)
			}

			if h.PaymentRequest != nil {
				pr.Route("/payment-requests", func(rr chi.Router) {
					rr.Post("/", h.PaymentRequest.CreateRequest)
					rr.Get("/", h.PaymentRequest.ListRequests)
					rr.Get("/{id}", h.PaymentRequest.GetRequest)
					rr.Post("/{id}/pay", h.PaymentRequest.PayRequest)
					rr.Post("/{id}/decline", h.PaymentRequest.DeclineRequest)
				})
			}

			if h.Limit != nil {
				pr.Route("/limits", func(lr chi.Router) {
					lr.Get("/", h.Limit.ListLimits)
					lr.Get("/{scope}", h.Limit.GetLimit)
					lr.Put("/{scope}", h.Limit.SetLimit)
					lr.Delete("/{scope}", h.Limit.RemoveLimit)
				})
			}

			if h.Autopay != nil {
				pr.Route("/autopay", func(ar chi.Router) {
					ar.Get("/", h.Autopay.GetSettings)
					ar.Put("/", h.Autopay.UpdateSettings)
					ar.Post("/evaluate", h.Autopay.Evaluate)
					ar.Get("/rules", h.Autopay.ListRules)
					ar.Get("/rules/{peerID}", h.Autopay.GetRule)
					ar.Put("/rules/{peerID}", h.Autopay.PutRule)
					ar.Delete("/rules/{peerID}", h.Autopay.DeleteRule)
				})
			}

			if h.Receipt != nil {
				pr.Get("/receipts", h.Receipt.ListReceipts)
				pr.Get("/receipts/{id}", h.Receipt.GetReceipt)
			}
		})
	})
}
