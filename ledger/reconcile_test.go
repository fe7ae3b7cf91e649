package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-engine/ledger"
)

func TestReconciler_DetectsOutOfBandWrites(t *testing.T) {
	// GIVEN: two owners with consistent ledgers
	f := newFixture(t)
	a := f.source("A", "100")
	f.mustCreate(a, ledger.TypeExpense, "25")
	other, err := f.engine.CreateSource(f.ctx, "owner-2", ledger.CreateSourceInput{Name: "B", Balance: dec("7")})
	require.NoError(t, err)

	report, err := f.reconcil.AuditAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Owners)
	assert.Equal(t, 2, report.Sources)
	assert.Empty(t, report.Drifts)

	// WHEN: a balance is written behind the engine's back
	raw, err := f.store.GetSource(f.ctx, other.ID)
	require.NoError(t, err)
	raw.Balance = dec("3")
	require.NoError(t, f.store.SaveSource(f.ctx, *raw))

	// THEN: only that source is reported, and nothing is repaired
	report, err = f.reconcil.AuditAll(f.ctx)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	d := report.Drifts[0]
	assert.Equal(t, ledger.OwnerID("owner-2"), d.OwnerID)
	assert.Equal(t, other.ID, d.SourceID)
	assert.Equal(t, "3", d.Cached.String())
	assert.Equal(t, "7", d.Expected.String())
	assert.Equal(t, "-4", d.Drift.String())

	still, err := f.store.GetSource(f.ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", still.Balance.String())

	drifts, n, err := f.reconcil.AuditOwner(f.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, drifts)
}

func TestReconciler_NoFalseDriftUnderConcurrentWrites(t *testing.T) {
	// GIVEN: a writer adding transactions as fast as it can
	f := newFixture(t)
	src := f.source("Wallet", "0")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			f.create(src, ledger.TypeIncome, "1")
		}
	}()

	// WHEN: the owner is audited while it runs
	for {
		drifts, _, err := f.reconcil.AuditOwner(f.ctx, owner)

		// THEN: every audit sees balance and rows from the same moment
		require.NoError(t, err)
		require.Empty(t, drifts)

		select {
		case <-done:
			assert.Equal(t, "200.00", f.balance(src))
			return
		default:
		}
	}
}
