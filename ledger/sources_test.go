package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-engine/ledger"
)

func TestCreateSource_Defaults(t *testing.T) {
	f := newFixture(t)

	src, err := f.engine.CreateSource(f.ctx, owner, ledger.CreateSourceInput{Name: "  Piggy bank ", Balance: dec("12.5")})
	require.NoError(t, err)
	assert.Equal(t, "Piggy bank", src.Name)
	assert.Equal(t, ledger.SourceOther, src.Type)
	assert.Equal(t, ledger.StatusAvailable, src.Status)
	assert.True(t, src.OpeningBalance.Equal(src.Balance))
}

func TestCreateSource_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   ledger.CreateSourceInput
	}{
		{"empty name", ledger.CreateSourceInput{Name: " "}},
		{"bad type", ledger.CreateSourceInput{Name: "X", Type: "crypto"}},
		{"bad status", ledger.CreateSourceInput{Name: "X", Status: "frozen"}},
		{"negative balance", ledger.CreateSourceInput{Name: "X", Balance: dec("-1")}},
		{"negative rate", ledger.CreateSourceInput{Name: "X", InterestRate: dec("-0.1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateSource(f.ctx, owner, tt.in)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestUpdateSource_BalanceEditRebases(t *testing.T) {
	// GIVEN: 100 with a 30 expense
	f := newFixture(t)
	src := f.source("Wallet", "100")
	f.mustCreate(src, ledger.TypeExpense, "30")

	// WHEN: the user corrects the balance to 50
	balance := dec("50")
	updated, err := f.engine.UpdateSource(f.ctx, owner, src.ID, ledger.UpdateSourceInput{Balance: &balance})

	// THEN: opening moves by the same delta, so the ledger stays consistent
	require.NoError(t, err)
	assert.Equal(t, "50.00", updated.Balance.StringFixed(2))
	assert.Equal(t, "80.00", updated.OpeningBalance.StringFixed(2))
	f.assertConsistent()
}

func TestUpdateSource_Fields(t *testing.T) {
	f := newFixture(t)
	src := f.source("Wallet", "100")

	name, typ, status := "Main", ledger.SourceEWallet, ledger.StatusLocked
	updated, err := f.engine.UpdateSource(f.ctx, owner, src.ID, ledger.UpdateSourceInput{Name: &name, Type: &typ, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "Main", updated.Name)
	assert.Equal(t, ledger.SourceEWallet, updated.Type)
	assert.Equal(t, ledger.StatusLocked, updated.Status)
	assert.Equal(t, "100.00", updated.Balance.StringFixed(2))

	empty := ""
	_, err = f.engine.UpdateSource(f.ctx, owner, src.ID, ledger.UpdateSourceInput{Name: &empty})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.engine.UpdateSource(f.ctx, "intruder", src.ID, ledger.UpdateSourceInput{Name: &name})
	assert.ErrorIs(t, err, ledger.ErrPermissionDenied)

	_, err = f.engine.UpdateSource(f.ctx, owner, "missing", ledger.UpdateSourceInput{Name: &name})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDeleteSource_BlockedWhileReferenced(t *testing.T) {
	f := newFixture(t)
	src := f.source("Wallet", "100")
	tx := f.mustCreate(src, ledger.TypeExpense, "10")

	err := f.engine.DeleteSource(f.ctx, owner, src.ID)
	assert.ErrorIs(t, err, ledger.ErrInUse)

	_, err = f.engine.DeleteTransaction(f.ctx, owner, tx.ID)
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteSource(f.ctx, owner, src.ID))

	_, err = f.engine.GetSource(f.ctx, owner, src.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCategories(t *testing.T) {
	f := newFixture(t)

	// Duplicate name within a type is rejected, across types it is fine.
	_, err := f.engine.CreateCategory(f.ctx, owner, ledger.CreateCategoryInput{Name: "GROCERIES", Type: ledger.TypeExpense})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	cat, err := f.engine.CreateCategory(f.ctx, owner, ledger.CreateCategoryInput{Name: "Groceries", Type: ledger.TypeIncome, Classification: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", cat.Classification)
	assert.Equal(t, ledger.ClassNeeds, f.expense.Classification)

	// In use.
	src := f.source("Wallet", "100")
	f.mustCreate(src, ledger.TypeExpense, "10")
	assert.ErrorIs(t, f.engine.DeleteCategory(f.ctx, owner, f.expense.ID), ledger.ErrInUse)
	assert.ErrorIs(t, f.engine.DeleteCategory(f.ctx, "intruder", cat.ID), ledger.ErrPermissionDenied)

	require.NoError(t, f.engine.DeleteCategory(f.ctx, owner, cat.ID))
	cats, err := f.engine.ListCategories(f.ctx, owner)
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}
