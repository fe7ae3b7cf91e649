package agent

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-engine/ledger"
)

const (
	ToolAddTransaction          = "add_transaction"
	ToolAddMultipleTransactions = "add_multiple_transactions"
	ToolUpdateTransaction       = "update_transaction"
	ToolDeleteTransaction       = "delete_transaction"
	ToolBulkDeleteTransactions  = "bulk_delete_transactions"
)

const maxBatchItems = 100

// =============================================================================
// ARGUMENTS
// =============================================================================

// TransactionArgs describes one transaction in the agent's vocabulary.
// Category is a name or id; Source is an id, "default" or empty.
type TransactionArgs struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Source      string          `json:"source,omitempty"`
	Date        string          `json:"date,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (a TransactionArgs) validate() (ledger.TransactionType, time.Time, error) {
	if !a.Amount.IsPositive() {
		return "", time.Time{}, &ledger.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	t, err := ledger.ParseTransactionType(a.Type)
	if err != nil {
		return "", time.Time{}, err
	}
	if strings.TrimSpace(a.Category) == "" {
		return "", time.Time{}, &ledger.ValidationError{Field: "category", Message: "must not be empty"}
	}
	var date time.Time
	if a.Date != "" {
		if date, err = ledger.ParseDate(a.Date); err != nil {
			return "", time.Time{}, err
		}
	}
	return t, date, nil
}

type AddMultipleArgs struct {
	Transactions []TransactionArgs `json:"transactions"`
}

// UpdateTransactionArgs changes only the fields that are present.
type UpdateTransactionArgs struct {
	TransactionID string           `json:"transaction_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Type          *string          `json:"type,omitempty"`
	Category      *string          `json:"category,omitempty"`
	Source        *string          `json:"source,omitempty"`
	Date          *string          `json:"date,omitempty"`
	Description   *string          `json:"description,omitempty"`
}

type DeleteTransactionArgs struct {
	TransactionID string `json:"transaction_id"`
}

type BulkDeleteArgs struct {
	Type string `json:"type"`
}

// =============================================================================
// RESULTS
// =============================================================================

type CategoryView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Classification string `json:"classification,omitempty"`
}

type SourceView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

type TransactionView struct {
	ID          string        `json:"id"`
	Amount      string        `json:"amount"`
	Type        string        `json:"type"`
	Date        string        `json:"date"`
	Description string        `json:"description,omitempty"`
	Category    *CategoryView `json:"category,omitempty"`
	Source      *SourceView   `json:"source,omitempty"`
}

func newTransactionView(tx ledger.Transaction) TransactionView {
	v := TransactionView{
		ID:          string(tx.ID),
		Amount:      tx.Amount.StringFixed(2),
		Type:        string(tx.Type),
		Date:        tx.Date.Format(ledger.DateLayout),
		Description: tx.Description,
	}
	if tx.Category != nil {
		v.Category = &CategoryView{
			ID:             string(tx.Category.ID),
			Name:           tx.Category.Name,
			Type:           string(tx.Category.Type),
			Classification: tx.Category.Classification,
		}
	}
	if tx.Source != nil {
		v.Source = &SourceView{
			ID:      string(tx.Source.ID),
			Name:    tx.Source.Name,
			Balance: tx.Source.Balance.StringFixed(2),
		}
	}
	return v
}

type ItemFailure struct {
	Index int             `json:"index"`
	Spec  TransactionArgs `json:"spec"`
	Error string          `json:"error"`
}

type BatchView struct {
	Successful   []TransactionView `json:"successful"`
	Failed       []ItemFailure     `json:"failed"`
	TotalCreated int               `json:"total_created"`
	TotalFailed  int               `json:"total_failed"`
}

type DeleteView struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Type          string `json:"type"`
	SourceID      string `json:"source_id"`
	SourceBalance string `json:"source_balance"`
}

type BulkDeleteView struct {
	DeletedCount int          `json:"deleted_count"`
	Type         string       `json:"type"`
	Sources      []SourceView `json:"sources"`
}

// =============================================================================
// HANDLERS
// =============================================================================

// resolveInput turns agent args into an engine input, creating the
// category if needed.
func (r *Registry) resolveInput(ctx context.Context, ownerID ledger.OwnerID, a TransactionArgs) (ledger.CreateTransactionInput, error) {
	t, date, err := a.validate()
	if err != nil {
		return ledger.CreateTransactionInput{}, err
	}
	cat, err := r.resolver.ResolveCategory(ctx, ownerID, a.Category, t)
	if err != nil {
		return ledger.CreateTransactionInput{}, err
	}
	src, err := r.resolver.ResolveSource(ctx, ownerID, a.Source)
	if err != nil {
		return ledger.CreateTransactionInput{}, err
	}
	return ledger.CreateTransactionInput{
		Amount:      a.Amount,
		Type:        t,
		Date:        date,
		Description: a.Description,
		CategoryID:  cat.ID,
		SourceID:    src.ID,
	}, nil
}

func (r *Registry) addTransaction(ctx context.Context, ownerID ledger.OwnerID, raw json.RawMessage) (any, error) {
	var args TransactionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	in, err := r.resolveInput(ctx, ownerID, args)
	if err != nil {
		return nil, err
	}
	tx, err := r.engine.CreateTransaction(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	return newTransactionView(*tx), nil
}

// addMultipleTransactions resolves every item first. Items that fail to
// resolve are reported with their original index next to the engine's
// own per-item failures.
func (r *Registry) addMultipleTransactions(ctx context.Context, ownerID ledger.OwnerID, raw json.RawMessage) (any, error) {
	var args AddMultipleArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Transactions) == 0 {
		return nil, &ledger.ValidationError{Field: "transactions", Message: "must not be empty"}
	}
	if len(args.Transactions) > maxBatchItems {
		return nil, &ledger.ValidationError{Field: "transactions", Message: "at most 100 items per call"}
	}

	view := BatchView{Successful: []TransactionView{}, Failed: []ItemFailure{}}
	inputs := make([]ledger.CreateTransactionInput, 0, len(args.Transactions))
	origIndex := make([]int, 0, len(args.Transactions))
	for i, item := range args.Transactions {
		in, err := r.resolveInput(ctx, ownerID, item)
		if err != nil {
			view.Failed = append(view.Failed, ItemFailure{Index: i, Spec: item, Error: err.Error()})
			continue
		}
		inputs = append(inputs, in)
		origIndex = append(origIndex, i)
	}

	res := r.engine.AddMultipleTransactions(ctx, ownerID, inputs)
	for _, tx := range res.Successful {
		view.Successful = append(view.Successful, newTransactionView(tx))
	}
	for _, f := range res.Failed {
		i := origIndex[f.Index]
		view.Failed = append(view.Failed, ItemFailure{Index: i, Spec: args.Transactions[i], Error: f.Err.Error()})
	}
	sort.Slice(view.Failed, func(i, j int) bool { return view.Failed[i].Index < view.Failed[j].Index })

	view.TotalCreated = len(view.Successful)
	view.TotalFailed = len(view.Failed)
	return view, nil
}

func (r *Registry) updateTransaction(ctx context.Context, ownerID ledger.OwnerID, raw json.RawMessage) (any, error) {
	var args UpdateTransactionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.TransactionID) == "" {
		return nil, &ledger.ValidationError{Field: "transaction_id", Message: "must not be empty"}
	}
	id := ledger.TransactionID(args.TransactionID)

	in := ledger.UpdateTransactionInput{Amount: args.Amount, Description: args.Description}
	if args.Type != nil {
		t, err := ledger.ParseTransactionType(*args.Type)
		if err != nil {
			return nil, err
		}
		in.Type = &t
	}
	if args.Date != nil {
		d, err := ledger.ParseDate(*args.Date)
		if err != nil {
			return nil, err
		}
		in.Date = &d
	}

	if args.Category != nil {
		// The category must match the type the transaction will have.
		var t ledger.TransactionType
		if in.Type != nil {
			t = *in.Type
		} else {
			cur, err := r.engine.GetTransaction(ctx, ownerID, id)
			if err != nil {
				return nil, err
			}
			t = cur.Type
		}
		cat, err := r.resolver.ResolveCategory(ctx, ownerID, *args.Category, t)
		if err != nil {
			return nil, err
		}
		in.CategoryID = &cat.ID
	}
	if args.Source != nil {
		src, err := r.resolver.ResolveSource(ctx, ownerID, *args.Source)
		if err != nil {
			return nil, err
		}
		in.SourceID = &src.ID
	}

	tx, err := r.engine.UpdateTransaction(ctx, ownerID, id, in)
	if err != nil {
		return nil, err
	}
	return newTransactionView(*tx), nil
}

func (r *Registry) deleteTransaction(ctx context.Context, ownerID ledger.OwnerID, raw json.RawMessage) (any, error) {
	var args DeleteTransactionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.TransactionID) == "" {
		return nil, &ledger.ValidationError{Field: "transaction_id", Message: "must not be empty"}
	}
	res, err := r.engine.DeleteTransaction(ctx, ownerID, ledger.TransactionID(args.TransactionID))
	if err != nil {
		return nil, err
	}
	return DeleteView{
		TransactionID: string(res.TransactionID),
		Amount:        res.Amount.StringFixed(2),
		Type:          string(res.Type),
		SourceID:      string(res.SourceID),
		SourceBalance: res.SourceBalance.StringFixed(2),
	}, nil
}

// bulkDeleteTransactions requires an explicit type so an empty call never
// wipes everything.
func (r *Registry) bulkDeleteTransactions(ctx context.Context, ownerID ledger.OwnerID, raw json.RawMessage) (any, error) {
	var args BulkDeleteArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Type) == "" {
		return nil, &ledger.ValidationError{Field: "type", Message: "must be expense, income or all"}
	}
	filter, err := ledger.ParseTypeFilter(args.Type)
	if err != nil {
		return nil, err
	}
	res, err := r.engine.BulkDeleteTransactions(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	view := BulkDeleteView{
		DeletedCount: res.DeletedCount,
		Type:         string(res.Type),
		Sources:      make([]SourceView, len(res.Sources)),
	}
	for i, s := range res.Sources {
		view.Sources[i] = SourceView{ID: string(s.SourceID), Name: s.Name, Balance: s.Balance.StringFixed(2)}
	}
	return view, nil
}
