/*
scheduler.go - Periodic balance audit

PURPOSE:
  Runs Reconciler.AuditAll on a fixed interval so a drifting cached
  balance is noticed even if nobody opens /api/audit. Drift is logged at
  WARN by the reconciler; the scheduler only logs a one-line summary.

DESIGN:
  - One background goroutine driven by a ticker
  - Runs once immediately on Start
  - Stop cancels an in-flight audit and waits for the goroutine
  - Keeps the last report for RunNow callers and tests

CONFIGURATION:
  - CheckInterval: How often to audit (AUDIT_INTERVAL, default 1h)
  - Enabled:       Whether the scheduler runs at all (AUDIT_ENABLED)

USAGE:
  scheduler := NewAuditScheduler(reconciler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/reconcile.go: What an audit checks
  - handlers.go: Audit endpoint (on demand, one owner)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/finance-engine/ledger"
)

type AuditScheduler struct {
	Reconciler    *ledger.Reconciler
	CheckInterval time.Duration
	Enabled       bool

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu     sync.Mutex
	lastReport *ledger.AuditReport
}

func NewAuditScheduler(reconciler *ledger.Reconciler, logger *slog.Logger) *AuditScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditScheduler{
		Reconciler:    reconciler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger.With("component", "audit"),
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("audit scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run(ctx, s.ticker.C, s.stop)

	s.logger.Info("audit scheduler started", "interval", s.CheckInterval.String())
}

// Stop stops the scheduler and waits for a running audit to return.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		s.cancel()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("audit scheduler stopped")
	}
}

func (s *AuditScheduler) run(ctx context.Context, ticks <-chan time.Time, stop <-chan struct{}) {
	defer s.wg.Done()

	s.checkAndReport(ctx)

	for {
		select {
		case <-ticks:
			s.checkAndReport(ctx)
		case <-stop:
			return
		}
	}
}

func (s *AuditScheduler) checkAndReport(ctx context.Context) *ledger.AuditReport {
	start := time.Now()
	report, err := s.Reconciler.AuditAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "balance audit failed", "error", err)
		}
		return nil
	}

	s.lastMu.Lock()
	s.lastReport = report
	s.lastMu.Unlock()

	level := slog.LevelInfo
	if len(report.Drifts) > 0 {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "balance audit completed",
		"owners", report.Owners,
		"sources", report.Sources,
		"drifts", len(report.Drifts),
		"duration_ms", time.Since(start).Milliseconds())
	return report
}

// RunNow runs an audit synchronously (for testing/admin).
func (s *AuditScheduler) RunNow(ctx context.Context) *ledger.AuditReport {
	return s.checkAndReport(ctx)
}

// LastReport returns the most recent successful report, or nil.
func (s *AuditScheduler) LastReport() *ledger.AuditReport {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastReport
}
