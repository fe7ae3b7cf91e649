/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the finance engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (local development) and environment configuration
  2. Apply command-line flag overrides and validate
  3. Open the configured store (memory, sqlite or postgres)
  4. Connect the AMQP publisher when AMQP_URL is set
  5. Build engine, agent registry, reconciler and HTTP handler
  6. Start the audit scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -port     HTTP server port (overrides PORT)
  -backend  memory, sqlite or postgres (overrides DATA_BACKEND)
  -db       SQLite database path (overrides SQLITE_DB_PATH)
            Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Close the AMQP connection and the store

EXAMPLES:
  # Run with a file database
  ./server -backend=sqlite -db="./data/finance.db"

  # Run against Postgres, publishing ledger events
  DATA_BACKEND=postgres DATABASE_URL=postgres://... AMQP_URL=amqp://... ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - cmd/audit-worker: Event-driven audits
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/finance-engine/agent"
	"github.com/warp/finance-engine/api"
	"github.com/warp/finance-engine/config"
	"github.com/warp/finance-engine/events/amqp"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/logging"
	"github.com/warp/finance-engine/store/backend"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file for local development (ignore errors in production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Flags
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DataBackend, "backend", cfg.DataBackend, "Storage backend: memory, sqlite or postgres")
	flag.StringVar(&cfg.SQLiteDBPath, "db", cfg.SQLiteDBPath, "SQLite database path")
	flag.Parse()

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := backend.Open(ctx, cfg, logger.With(logging.FieldComponent, logging.ComponentStorage))
	if err != nil {
		return err
	}
	defer store.Close()

	// Events are optional
	opts := []ledger.Option{ledger.WithLogger(logger.With(logging.FieldComponent, logging.ComponentLedger))}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			logger.With(logging.FieldComponent, logging.ComponentAMQP))
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, ledger.WithPublisher(client))
		logger.Info("publishing ledger events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled, ledger events are not published")
	}

	engine := ledger.NewEngine(store, opts...)
	registry := agent.NewRegistry(engine, logger.With(logging.FieldComponent, logging.ComponentAgent))
	reconciler := ledger.NewReconciler(store, logger.With(logging.FieldComponent, logging.ComponentAudit), cfg.AuditConcurrency)

	handler := api.NewHandler(engine, registry, reconciler, store, logger.With(logging.FieldComponent, logging.ComponentScenarios))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger.With(logging.FieldComponent, logging.ComponentHTTP),
	})

	scheduler := api.NewAuditScheduler(reconciler, logger)
	scheduler.CheckInterval = cfg.AuditInterval
	scheduler.Enabled = cfg.AuditEnabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr, "backend", cfg.DataBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
