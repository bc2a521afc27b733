// Package main is the entry point for the lightalert send worker.
//
// The worker polls the message queue on a fixed interval and delivers
// pending messages through the configured email provider. It shares the
// claim protocol with any other worker instance pointed at the same
// database, so running several copies is safe.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the in-flight pass finishes before the process exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lightalert/internal/config"
	"lightalert/internal/db"
	"lightalert/internal/external"
	"lightalert/internal/sender"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("lightalert send worker starting",
		"environment", cfg.Environment,
		"poll_interval", cfg.Sender.PollInterval.String(),
	)

	ctx := context.Background()
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()

	worker := sender.NewWorker(sender.WorkerConfig{
		Queue:          db.NewMessageRepository(pool),
		SentTx:         &senderTx{inner: db.NewTxManager(pool)},
		Provider:       newEmailProvider(cfg.Email, logger),
		FromAddress:    cfg.Email.FromAddress,
		FromName:       cfg.Email.FromName,
		MaxAttempts:    cfg.Sender.MaxAttempts,
		ClaimBatch:     cfg.Sender.ClaimBatch,
		AbandonedAfter: cfg.Sender.AbandonedAfter,
		Concurrency:    cfg.Sender.Concurrency,
		Logger:         logger,
	})

	return runPollLoop(ctx, worker, cfg.Sender.PollInterval, logger)
}

// runPollLoop runs delivery passes until a shutdown signal arrives. A
// failed pass is logged and retried on the next tick; only startup errors
// are fatal.
func runPollLoop(ctx context.Context, worker *sender.Worker, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First pass runs immediately so a restart drains the backlog without
	// waiting a full interval.
	runPass(ctx, worker, logger)

	for {
		select {
		case sig := <-shutdown:
			logger.Info("shutdown signal received", "signal", sig.String())
			return nil
		case <-ticker.C:
			runPass(ctx, worker, logger)
		}
	}
}

func runPass(ctx context.Context, worker *sender.Worker, logger *slog.Logger) {
	report, err := worker.RunOnce(ctx)
	if err != nil {
		logger.Error("delivery pass failed", "error", err)
		return
	}
	if report.Sent > 0 || report.Failed > 0 {
		logger.Info("delivery pass finished", "sent", report.Sent, "failed", report.Failed)
	}
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

// newPool opens a pgx pool with the configured tuning applied.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	return pgxpool.NewWithConfig(ctx, poolCfg)
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
