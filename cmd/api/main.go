// Package main is the entry point for the lightalert API server.
//
// It loads the configuration, opens the PostgreSQL pool, wires the
// repositories into the alert, consolidation, and sending services, builds
// the HTTP server with the core chassis (middleware, routing, health
// checks), and starts listening for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lightalert/internal/alerts"
	"lightalert/internal/api/handlers"
	"lightalert/internal/config"
	"lightalert/internal/core"
	"lightalert/internal/db"
	"lightalert/internal/external"
	"lightalert/internal/notifications"
	"lightalert/internal/sender"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("lightalert API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}

	// Repositories. All of them accept the pool directly; transactional
	// consolidation constructs tx-scoped instances through the adapter below.
	thresholdRepo := db.NewThresholdRepository(pool)
	alertRepo := db.NewAlertRepository(pool)
	contactRepo := db.NewContactRepository(pool)
	messageRepo := db.NewMessageRepository(pool)
	lotRepo := db.NewLotRepository(pool)

	alertService := alerts.NewService(alerts.ServiceConfig{
		Catalog: thresholdRepo,
		Store:   alertRepo,
		Lots:    lotRepo,
		Logger:  logger,
	})

	consolidator := notifications.NewConsolidator(notifications.ConsolidatorConfig{
		Alerts:             alertRepo,
		Contacts:           contactRepo,
		Rules:              thresholdRepo,
		Lots:               lotRepo,
		TxManager:          &consolidationTx{inner: db.NewTxManager(pool)},
		FallbackRecipients: cfg.Alerts.FallbackRecipients,
		Logger:             logger,
	})

	provider := newEmailProvider(cfg.Email, logger)
	sendWorker := sender.NewWorker(sender.WorkerConfig{
		Queue:          messageRepo,
		SentTx:         &senderTx{inner: db.NewTxManager(pool)},
		Provider:       provider,
		FromAddress:    cfg.Email.FromAddress,
		FromName:       cfg.Email.FromName,
		MaxAttempts:    cfg.Sender.MaxAttempts,
		ClaimBatch:     cfg.Sender.ClaimBatch,
		AbandonedAfter: cfg.Sender.AbandonedAfter,
		Concurrency:    cfg.Sender.Concurrency,
		Logger:         logger,
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	alertHandler := handlers.NewAlertHandler(alertService, srv.Validator, logger)
	thresholdHandler := handlers.NewThresholdHandler(thresholdRepo, srv.Validator, logger)
	contactHandler := handlers.NewContactHandler(contactRepo, srv.Validator, logger)
	messageHandler := handlers.NewMessageHandler(handlers.MessageHandlerConfig{
		Store:           messageRepo,
		Alerts:          alertRepo,
		Consolidator:    consolidator,
		Sender:          sendWorker,
		Validator:       srv.Validator,
		Logger:          logger,
		DefaultLookback: time.Duration(cfg.Alerts.LookbackHours) * time.Hour,
	})

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		alertHandler.RegisterRoutes,
		thresholdHandler.RegisterRoutes,
		contactHandler.RegisterRoutes,
		messageHandler.RegisterRoutes,
	)

	srv.HealthProbes = append(srv.HealthProbes, &databaseProbe{pool: pool})
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool opens a pgx pool with the configured tuning applied.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// newEmailProvider selects the outbound provider. An empty API key selects
// the stub, which logs sends instead of delivering them.
func newEmailProvider(cfg config.EmailConfig, logger *slog.Logger) external.EmailProvider {
	if cfg.ResendAPIKey == "" {
		logger.Warn("RESEND_API_KEY not set, using stub email provider")
		return external.NewStubEmailProvider(logger)
	}
	return external.NewResendClient(
		&http.Client{Timeout: 30 * time.Second},
		external.ResendClientConfig{
			APIKey:  cfg.ResendAPIKey,
			BaseURL: cfg.BaseURL,
			Logger:  logger,
		},
	)
}

// consolidationTx adapts db.TxManager to the consolidator's transactional
// contract: both stores it hands to the callback are built over the same
// pgx transaction, so message creation and alert linking commit together.
type consolidationTx struct {
	inner *db.TxManager
}

func (a *consolidationTx) RunInTx(
	ctx context.Context,
	fn func(ctx context.Context, messages notifications.MessageStore, alerts notifications.AlertLinkStore) error,
) error {
	return a.inner.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, db.NewMessageRepository(tx), db.NewAlertRepository(tx))
	})
}

// senderTx adapts db.TxManager to the delivery worker's transactional
// contract: the message acknowledgment and the alert state change run over
// the same pgx transaction.
type senderTx struct {
	inner *db.TxManager
}

func (a *senderTx) RunInTx(
	ctx context.Context,
	fn func(ctx context.Context, messages sender.SentAckStore, alerts sender.AlertMarker) error,
) error {
	return a.inner.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, db.NewMessageRepository(tx), db.NewAlertRepository(tx))
	})
}

// databaseProbe reports database reachability for the health endpoint.
type databaseProbe struct {
	pool *pgxpool.Pool
}

func (p *databaseProbe) Name() string { return "database" }

func (p *databaseProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Shutdown server resources (DB pool).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
