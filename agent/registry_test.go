package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/ledger/store"
	"github.com/warp/finance-engine/logging"
)

const owner = ledger.OwnerID("user-1")

func setup(t *testing.T) (*Registry, *ledger.Engine) {
	t.Helper()
	engine := ledger.NewEngine(store.NewMemory(), ledger.WithLogger(logging.Discard()))
	return NewRegistry(engine, logging.Discard()), engine
}

func invoke(t *testing.T, r *Registry, name, args string) (any, error) {
	t.Helper()
	return r.Invoke(context.Background(), owner, name, json.RawMessage(args))
}

func TestRegistry_ToolNames(t *testing.T) {
	r, _ := setup(t)

	assert.Equal(t, []string{
		ToolAddMultipleTransactions,
		ToolAddTransaction,
		ToolBulkDeleteTransactions,
		ToolDeleteTransaction,
		ToolUpdateTransaction,
	}, r.ToolNames())
}

func TestRegistry_UnknownTool(t *testing.T) {
	r, _ := setup(t)

	_, err := invoke(t, r, "transfer_money", `{}`)

	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistry_StrictArguments(t *testing.T) {
	r, _ := setup(t)

	tests := []struct {
		name string
		args string
	}{
		{"unknown field", `{"amount": 10, "type": "expense", "category": "Food", "currency": "EUR"}`},
		{"malformed json", `{"amount": `},
		{"trailing data", `{"amount": 10, "type": "expense", "category": "Food"} {}`},
		{"zero amount", `{"amount": 0, "type": "expense", "category": "Food"}`},
		{"unknown type", `{"amount": 10, "type": "transfer", "category": "Food"}`},
		{"missing category", `{"amount": 10, "type": "expense"}`},
		{"bad date", `{"amount": 10, "type": "expense", "category": "Food", "date": "yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(t, r, ToolAddTransaction, tt.args)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestAddTransaction_ResolvesNamesAndDefaultSource(t *testing.T) {
	// GIVEN: a fresh owner with no sources or categories
	r, engine := setup(t)
	ctx := context.Background()

	// WHEN: the agent records income against the default source
	res, err := invoke(t, r, ToolAddTransaction,
		`{"amount": "1000", "type": "income", "category": "Salary", "date": "2025-03-01"}`)
	require.NoError(t, err)

	// THEN: a Cash source and a Salary category were created
	view := res.(TransactionView)
	assert.Equal(t, "1000.00", view.Amount)
	assert.Equal(t, "2025-03-01", view.Date)
	require.NotNil(t, view.Source)
	assert.Equal(t, "Cash", view.Source.Name)
	assert.Equal(t, "1000.00", view.Source.Balance)
	require.NotNil(t, view.Category)
	assert.Equal(t, ledger.ClassActiveIncome, view.Category.Classification)

	// AND: a second call with a differently cased name reuses the category
	_, err = invoke(t, r, ToolAddTransaction, `{"amount": 50, "type": "income", "category": "salary"}`)
	require.NoError(t, err)
	cats, err := engine.ListCategories(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestAddMultipleTransactions_PartialSuccess(t *testing.T) {
	// GIVEN: a source with 100
	r, engine := setup(t)
	ctx := context.Background()
	src, err := engine.CreateSource(ctx, owner, ledger.CreateSourceInput{Name: "Wallet", Balance: decimal.NewFromInt(100)})
	require.NoError(t, err)

	// WHEN: three items arrive; the second overdraws, the third is malformed
	res, err := invoke(t, r, ToolAddMultipleTransactions, `{"transactions": [
		{"amount": 30, "type": "expense", "category": "Lunch", "source": "`+string(src.ID)+`"},
		{"amount": 500, "type": "expense", "category": "Rent", "source": "`+string(src.ID)+`"},
		{"amount": -1, "type": "expense", "category": "Coffee"},
		{"amount": 20, "type": "expense", "category": "Taxi", "source": "`+string(src.ID)+`"}
	]}`)
	require.NoError(t, err)

	// THEN: two created, two failed, with original indexes
	view := res.(BatchView)
	assert.Equal(t, 2, view.TotalCreated)
	assert.Equal(t, 2, view.TotalFailed)
	require.Len(t, view.Failed, 2)
	assert.Equal(t, 1, view.Failed[0].Index)
	assert.Contains(t, view.Failed[0].Error, "insufficient funds")
	assert.Equal(t, 2, view.Failed[1].Index)

	got, err := engine.GetSource(ctx, owner, src.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(50)), "balance %s", got.Balance)
}

func TestAddMultipleTransactions_FailuresEchoTheItem(t *testing.T) {
	r, engine := setup(t)
	ctx := context.Background()
	src, err := engine.CreateSource(ctx, owner, ledger.CreateSourceInput{Name: "Wallet", Balance: decimal.NewFromInt(10)})
	require.NoError(t, err)

	res, err := invoke(t, r, ToolAddMultipleTransactions, `{"transactions": [
		{"amount": 5, "type": "expense", "category": "Lunch", "date": "yesterday-ish"},
		{"amount": 50, "type": "expense", "category": "Rent", "source": "`+string(src.ID)+`"}
	]}`)
	require.NoError(t, err)

	view := res.(BatchView)
	require.Len(t, view.Failed, 2)
	assert.Equal(t, "yesterday-ish", view.Failed[0].Spec.Date)
	assert.Equal(t, "Lunch", view.Failed[0].Spec.Category)
	assert.Equal(t, 1, view.Failed[1].Index)
	assert.Equal(t, "Rent", view.Failed[1].Spec.Category)
	assert.True(t, view.Failed[1].Spec.Amount.Equal(decimal.NewFromInt(50)))
}

func TestAddMultipleTransactions_RejectsEmptyBatch(t *testing.T) {
	r, _ := setup(t)

	_, err := invoke(t, r, ToolAddMultipleTransactions, `{"transactions": []}`)

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestUpdateTransaction_CategoryFollowsType(t *testing.T) {
	// GIVEN: an expense of 100 from a 500 source
	r, engine := setup(t)
	ctx := context.Background()
	src, err := engine.CreateSource(ctx, owner, ledger.CreateSourceInput{Name: "Bank", Balance: decimal.NewFromInt(500)})
	require.NoError(t, err)
	res, err := invoke(t, r, ToolAddTransaction,
		`{"amount": 100, "type": "expense", "category": "Groceries", "source": "`+string(src.ID)+`"}`)
	require.NoError(t, err)
	id := res.(TransactionView).ID

	// WHEN: the agent turns it into income with a new category name
	res, err = invoke(t, r, ToolUpdateTransaction,
		`{"transaction_id": "`+id+`", "type": "income", "category": "Refund"}`)
	require.NoError(t, err)

	// THEN: the category was created as income and the balance swung by 200
	view := res.(TransactionView)
	assert.Equal(t, "income", view.Type)
	assert.Equal(t, "income", view.Category.Type)
	assert.Equal(t, "600.00", view.Source.Balance)
}

func TestUpdateTransaction_CategoryOnlyUsesCurrentType(t *testing.T) {
	r, engine := setup(t)
	ctx := context.Background()
	src, err := engine.CreateSource(ctx, owner, ledger.CreateSourceInput{Name: "Bank", Balance: decimal.NewFromInt(500)})
	require.NoError(t, err)
	res, err := invoke(t, r, ToolAddTransaction,
		`{"amount": 100, "type": "expense", "category": "Groceries", "source": "`+string(src.ID)+`"}`)
	require.NoError(t, err)
	id := res.(TransactionView).ID

	res, err = invoke(t, r, ToolUpdateTransaction, `{"transaction_id": "`+id+`", "category": "Dining out"}`)
	require.NoError(t, err)

	view := res.(TransactionView)
	assert.Equal(t, "Dining out", view.Category.Name)
	assert.Equal(t, "expense", view.Category.Type)
	assert.Equal(t, "400.00", view.Source.Balance)
}

func TestDeleteTransaction_Tool(t *testing.T) {
	r, _ := setup(t)
	res, err := invoke(t, r, ToolAddTransaction, `{"amount": 75, "type": "income", "category": "Gift"}`)
	require.NoError(t, err)
	id := res.(TransactionView).ID

	res, err = invoke(t, r, ToolDeleteTransaction, `{"transaction_id": "`+id+`"}`)
	require.NoError(t, err)

	view := res.(DeleteView)
	assert.Equal(t, id, view.TransactionID)
	assert.Equal(t, "0.00", view.SourceBalance)

	_, err = invoke(t, r, ToolDeleteTransaction, `{"transaction_id": "`+id+`"}`)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestBulkDeleteTransactions_Tool(t *testing.T) {
	r, _ := setup(t)
	_, err := invoke(t, r, ToolAddTransaction, `{"amount": 200, "type": "income", "category": "Salary"}`)
	require.NoError(t, err)
	_, err = invoke(t, r, ToolAddTransaction, `{"amount": 20, "type": "expense", "category": "Coffee"}`)
	require.NoError(t, err)

	// An explicit type is required.
	_, err = invoke(t, r, ToolBulkDeleteTransactions, `{}`)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	res, err := invoke(t, r, ToolBulkDeleteTransactions, `{"type": "expense"}`)
	require.NoError(t, err)
	view := res.(BulkDeleteView)
	assert.Equal(t, 1, view.DeletedCount)
	require.Len(t, view.Sources, 1)
	assert.Equal(t, "200.00", view.Sources[0].Balance)

	_, err = invoke(t, r, ToolBulkDeleteTransactions, `{"type": "expense"}`)
	assert.ErrorIs(t, err, ledger.ErrNothingToDelete)
}
