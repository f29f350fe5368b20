package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/peerpay/api"
	"github.com/frahmantamala/peerpay/internal/auth"
	"github.com/frahmantamala/peerpay/internal/autopay"
	"github.com/frahmantamala/peerpay/internal/limit"
	"github.com/frahmantamala/peerpay/internal/payment"
	"github.com/frahmantamala/peerpay/internal/paymentrequest"
	"github.com/frahmantamala/peerpay/internal/receipt"
	"github.com/frahmantamala/peerpay/internal/settlement"
	"github.com/frahmantamala/peerpay/internal/transport"
	"github.com/frahmantamala/peerpay/internal/transport/middleware"
	"github.com/frahmantamala/peerpay/internal/transport/rest"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server, the settlement webhooks and the confirmation workers`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	cfg, lg := mustLoad()

	ctx := context.Background()
	app, err := buildApplication(ctx, cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	router, err := setupRoutes(app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	app.Confirmer.Start()
	if n := app.Confirmer.Sweep(ctx); n > 0 {
		lg.Info("resumed confirmation tracking", "receipts", n)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	lg.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("Received signal, shutting down...", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("Server failed to start", "error", err)
			app.Close()
			os.Exit(1)
		}
	}

	app.Close()
	lg.Info("Server stopped")
}

func setupRoutes(app *Application) (*chi.Mux, error) {
	base := transport.NewBaseHandler(app.Logger)

	validator, err := middleware.NewRequestValidator(api.OpenAPISpec, app.Logger)
	if err != nil {
		return nil, err
	}

	health := rest.NewHealthHandler(base).
		AddCheck("postgres", app.DB).
		AddDetails("settlement", func() map[string]any {
			return map[string]any{"pending_callbacks": app.Settlement.Pending().Len()}
		}).
		AddDetails("receipts", func() map[string]any {
			return map[string]any{"pending": len(app.Receipts.ListPending())}
		})

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Health:         health,
		Auth:           auth.NewHandler(base, auth.NewService(app.Tokens)),
		Payment:        payment.NewHandler(base, app.Executor),
		PaymentRequest: paymentrequest.NewHandler(base, app.Requests),
		Limit:          limit.NewHandler(base, app.Limits),
		Autopay:        autopay.NewHandler(base, app.Autopay),
		Receipt:        receipt.NewHandler(base, app.Receipts),
		Webhook:        settlement.NewWebhookHandler(base, app.Settlement.Pending(), app.Confirmer),
	}, rest.RouterConfig{
		WebhookSecret:  app.Config.Settlement.WebhookSecret,
		MetricsEnabled: app.Config.Observability.Metrics.Enabled,
		MetricsPath:    app.Config.Observability.Metrics.Path,
		Validator:      validator,
	}, app.Logger)

	return router, nil
}
