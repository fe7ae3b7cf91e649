/*
reconcile.go - Balance audit

PURPOSE:
  Source.Balance is a cached aggregate. The engine keeps it consistent,
  but anything writing to the database behind the engine's back would
  make it drift. The Reconciler recomputes

    expected = OpeningBalance + Σ signed(tx.Amount)

  for every source and reports each one where Balance != expected.

CONSISTENT READS:
  Sources and transactions of one owner are read from a single
  snapshot when the store offers one (SnapshotReader), so a unit
  committing between the two reads cannot show up as drift.

READ-ONLY:
  The reconciler reports, it never repairs. A drift is a bug or an
  out-of-band write and needs a human to decide which side is right.

SEE ALSO:
  - api/scheduler.go: Runs AuditAll periodically
  - cmd/audit-worker: Runs AuditOwner on ledger events
*/
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type SourceDrift struct {
	OwnerID  OwnerID
	SourceID SourceID
	Name     string
	Cached   decimal.Decimal
	Expected decimal.Decimal
	Drift    decimal.Decimal // Cached - Expected
}

type AuditReport struct {
	CheckedAt time.Time
	Owners    int
	Sources   int
	Drifts    []SourceDrift
}

type Reconciler struct {
	store       Store
	logger      *slog.Logger
	concurrency int
}

// NewReconciler audits at most concurrency owners at a time (minimum 1).
func NewReconciler(store Store, logger *slog.Logger, concurrency int) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{store: store, logger: logger, concurrency: concurrency}
}

// AuditOwner checks every source of one owner. The int result is the
// number of sources checked.
func (r *Reconciler) AuditOwner(ctx context.Context, ownerID OwnerID) ([]SourceDrift, int, error) {
	var (
		sources []Source
		txs     []Transaction
	)
	err := r.read(ctx, func(s Store) error {
		var err error
		if sources, err = s.ListSources(ctx, ownerID); err != nil {
			return err
		}
		txs, err = s.ListTransactions(ctx, ownerID, TransactionFilter{Type: FilterAll})
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	sums := make(map[SourceID]decimal.Decimal, len(sources))
	for _, tx := range txs {
		sums[tx.SourceID] = sums[tx.SourceID].Add(tx.Signed())
	}

	var drifts []SourceDrift
	for _, src := range sources {
		expected := src.OpeningBalance.Add(sums[src.ID])
		if src.Balance.Equal(expected) {
			continue
		}
		d := SourceDrift{
			OwnerID:  ownerID,
			SourceID: src.ID,
			Name:     src.Name,
			Cached:   src.Balance,
			Expected: expected,
			Drift:    src.Balance.Sub(expected),
		}
		r.logger.WarnContext(ctx, "source balance drift detected",
			"owner_id", ownerID,
			"source_id", src.ID,
			"cached", d.Cached.String(),
			"expected", d.Expected.String(),
			"drift", d.Drift.String())
		drifts = append(drifts, d)
	}
	return drifts, len(sources), nil
}

func (r *Reconciler) read(ctx context.Context, fn func(Store) error) error {
	if snap, ok := r.store.(SnapshotReader); ok {
		return snap.ReadSnapshot(ctx, fn)
	}
	return fn(r.store)
}

// AuditAll checks every owner that has sources.
func (r *Reconciler) AuditAll(ctx context.Context) (*AuditReport, error) {
	owners, err := r.store.ListOwners(ctx)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{CheckedAt: time.Now().UTC(), Owners: len(owners)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, owner := range owners {
		g.Go(func() error {
			drifts, n, err := r.AuditOwner(gctx, owner)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Sources += n
			report.Drifts = append(report.Drifts, drifts...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Drifts, func(i, j int) bool {
		if report.Drifts[i].OwnerID != report.Drifts[j].OwnerID {
			return report.Drifts[i].OwnerID < report.Drifts[j].OwnerID
		}
		return report.Drifts[i].SourceID < report.Drifts[j].SourceID
	})
	return report, nil
}
