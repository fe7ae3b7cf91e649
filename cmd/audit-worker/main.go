// Command audit-worker consumes ledger events from AMQP and re-audits the
// owner named in each one, so drift introduced next to a mutation is
// reported within seconds rather than at the next scheduled audit.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/warp/finance-engine/config"
	"github.com/warp/finance-engine/events"
	"github.com/warp/finance-engine/events/amqp"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/logging"
	"github.com/warp/finance-engine/store/backend"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	logger.Info("starting audit-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the audit worker")
		os.Exit(1)
	}
	if cfg.DataBackend == config.BackendMemory {
		logger.Error("audit worker needs a shared backend (sqlite or postgres)")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("audit-worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg, logger.With(logging.FieldComponent, logging.ComponentStorage))
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
		logger.With(logging.FieldComponent, logging.ComponentAMQP))
	if err != nil {
		return err
	}
	defer client.Close()

	reconciler := ledger.NewReconciler(store, logger.With(logging.FieldComponent, logging.ComponentAudit), cfg.AuditConcurrency)
	handle := auditHandler(reconciler, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.ConsumeLedgerEvents(gctx, handle)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("audit-worker stopped")
	return nil
}

// auditHandler audits the event's owner. Drift is logged by the reconciler
// and is not a handler error; only a failed audit is retried.
func auditHandler(r *ledger.Reconciler, logger *slog.Logger) func(context.Context, *events.LedgerEvent) error {
	return func(ctx context.Context, ev *events.LedgerEvent) error {
		if ev.OwnerID == "" {
			logger.WarnContext(ctx, "ledger event without owner, skipping", "kind", ev.Kind)
			return nil
		}
		drifts, n, err := r.AuditOwner(ctx, ledger.OwnerID(ev.OwnerID))
		if err != nil {
			return err
		}
		logger.DebugContext(ctx, "owner audited",
			"kind", ev.Kind, "owner_id", ev.OwnerID, "sources", n, "drifts", len(drifts))
		return nil
	}
}
