package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/auth"
	"github.com/frahmantamala/peerpay/internal/autopay"
	"github.com/frahmantamala/peerpay/internal/core/events"
	"github.com/frahmantamala/peerpay/internal/directory"
	"github.com/frahmantamala/peerpay/internal/kvstore"
	kvpostgres "github.com/frahmantamala/peerpay/internal/kvstore/postgres"
	"github.com/frahmantamala/peerpay/internal/limit"
	"github.com/frahmantamala/peerpay/internal/payment"
	"github.com/frahmantamala/peerpay/internal/paymentrequest"
	"github.com/frahmantamala/peerpay/internal/receipt"
	"github.com/frahmantamala/peerpay/internal/settlement"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application is the fully wired object graph. Every command that touches
// payment state builds it the same way.
type Application struct {
	Config *internal.Config
	Logger *slog.Logger
	DB     *sqlx.DB
	Store  kvstore.Store
	Bus    *events.EventBus

	Limits          *limit.Ledger
	Autopay         *autopay.Engine
	Receipts        *receipt.Ledger
	Requests        *paymentrequest.Service
	Settlement      *settlement.Client
	Confirmer       *settlement.Confirmer
	Executor        *payment.Executor
	Tokens          *auth.JWTTokenGenerator
	RequestsHandler *paymentrequest.EventHandler
}

func buildApplication(ctx context.Context, cfg *internal.Config, lg *slog.Logger) (*Application, error) {
	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	app := &Application{
		Config: cfg,
		Logger: lg,
		DB:     db,
		Store:  kvpostgres.NewStore(gdb),
		Bus:    events.NewEventBus(lg),
	}
	if err := app.wire(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func (a *Application) wire(ctx context.Context) error {
	cfg, lg := a.Config, a.Logger

	a.Limits = limit.NewLedger(a.Store, lg.With("component", "limit_ledger"))
	if err := a.Limits.Load(ctx); err != nil {
		return fmt.Errorf("load limit ledger: %w", err)
	}

	a.Autopay = autopay.NewEngine(a.Store, a.Limits, lg.With("component", "autopay"))
	if err := a.Autopay.Load(ctx, cfg.Autopay.Enabled); err != nil {
		return fmt.Errorf("load autopay engine: %w", err)
	}

	a.Receipts = receipt.NewLedger(a.Store, cfg.Receipts.MaxRetained, lg.With("component", "receipt_ledger"))
	if err := a.Receipts.Load(ctx); err != nil {
		return fmt.Errorf("load receipt ledger: %w", err)
	}

	a.Settlement = settlement.NewClient(settlement.Config{
		BaseURL:        cfg.Settlement.BaseURL,
		APIKey:         cfg.Settlement.APIKey,
		CallbackURL:    cfg.Settlement.CallbackURL,
		RequestTimeout: cfg.Settlement.RequestTimeout,
		SettleTimeout:  cfg.Settlement.SettleTimeout,
	}, settlement.NewPendingTable(), lg.With("component", "settlement"))

	a.Confirmer = settlement.NewConfirmer(settlement.ConfirmerConfig{
		Workers:               cfg.Settlement.ConfirmationWorkers,
		QueueSize:             cfg.Settlement.ConfirmationQueueSize,
		PollInterval:          cfg.Settlement.PollInterval,
		MaxChecks:             cfg.Settlement.MaxChecks,
		RequiredConfirmations: cfg.Settlement.RequiredConfirmations,
	}, a.Settlement, a.Receipts, a.Bus, lg.With("component", "confirmer"))

	dir := directory.NewClient(directory.Config{
		BaseURL: cfg.Directory.BaseURL,
		APIKey:  cfg.Directory.APIKey,
		Timeout: cfg.Directory.Timeout,
	}, lg.With("component", "directory"))

	deps := payment.Dependencies{
		Limits:    a.Limits,
		Resolver:  payment.NewResolver(dir, dir, lg.With("component", "resolver")),
		Settler:   a.Settlement,
		Receipts:  a.Receipts,
		Tracker:   a.Confirmer,
		Publisher: a.Bus,
	}
	if cfg.Security.PaymentPINHash != "" {
		deps.Gate = auth.NewPINGate(cfg.Security.PaymentPINHash)
	}
	a.Executor = payment.NewExecutor(deps, payment.ExecutorConfig{
		ConfirmationThreshold: cfg.Security.ConfirmationThreshold,
		DefaultStrategy:       cfg.Directory.Strategy,
	}, lg.With("component", "executor"))

	a.Requests = paymentrequest.NewService(a.Store, a.Executor, a.Autopay, a.Bus, lg.With("component", "payment_requests"))
	if err := a.Requests.Load(ctx); err != nil {
		return fmt.Errorf("load payment requests: %w", err)
	}
	a.Receipts.SetRequestLinker(a.Requests)

	a.RequestsHandler = paymentrequest.NewEventHandler(a.Requests, lg.With("component", "payment_requests"))
	a.RequestsHandler.RegisterEventHandlers(a.Bus)
	registerAuditHandlers(a.Bus, lg.With("component", "audit"))

	a.Tokens = auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration)
	return nil
}

// Close drains in-flight event handlers, stops the confirmation workers and
// closes the database.
func (a *Application) Close() {
	a.Confirmer.Shutdown()
	a.Bus.Close()
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

func registerAuditHandlers(bus *events.EventBus, lg *slog.Logger) {
	logEvent := func(ctx context.Context, event events.Event) error {
		lg.Info("payment event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	}
	for _, eventType := range []string{
		events.EventTypePaymentSucceeded,
		events.EventTypePaymentFailed,
		events.EventTypeReceiptConfirmed,
	} {
		bus.Subscribe(eventType, logEvent)
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return dbConn, nil
}
