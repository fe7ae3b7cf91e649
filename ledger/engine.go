/*
engine.go - Transaction operations

PURPOSE:
  Create, update and delete a single transaction. Each operation runs
  inside one TxStore.WithTx unit covering the transaction row and every
  affected source balance. A failure anywhere rolls back both.

CREATE:
  validate -> load category + source (owner checked) -> ApplyEffect
  -> insert transaction -> save source -> commit

UPDATE:
  load transaction (owner checked) -> ReverseEffect on current source
  -> merge fields -> load target source if it changed -> ApplyEffect
  -> check category -> write transaction + every touched source -> commit

  Example: source A at 500, expense 100 (A = 400), update amount to 50:
    reverse +100 -> 500, apply -50 -> 450

DELETE:
  load transaction (owner checked) -> ReverseEffect (no funds check)
  -> save source -> delete row -> commit

CATEGORY TYPE:
  A transaction's category must have the same type as the transaction.
  This is checked on create and on every update.

EVENTS:
  After commit, a LedgerEvent is published. Publish failures are logged,
  the operation still succeeds.

SEE ALSO:
  - balance.go: ApplyEffect / ReverseEffect
  - batch.go:   Multi-transaction operations built on these
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/finance-engine/events"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine coordinates the store, the balance mutator and event publishing.
type Engine struct {
	store     TxStore
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Engine)

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		publisher: events.Nop{},
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store for read-only collaborators.
func (e *Engine) Store() TxStore { return e.store }

// =============================================================================
// INPUTS
// =============================================================================

type CreateTransactionInput struct {
	Amount      decimal.Decimal
	Type        TransactionType
	Date        time.Time // zero means now
	Description string
	CategoryID  CategoryID
	SourceID    SourceID
}

func (in CreateTransactionInput) validate() error {
	if !in.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !in.Type.Valid() {
		return &ValidationError{Field: "type", Message: "must be income or expense"}
	}
	if in.CategoryID == "" {
		return &ReferenceError{Kind: "category"}
	}
	if in.SourceID == "" {
		return &ReferenceError{Kind: "source"}
	}
	return nil
}

// UpdateTransactionInput holds the fields to change. Nil means unchanged.
type UpdateTransactionInput struct {
	Amount      *decimal.Decimal
	Type        *TransactionType
	Date        *time.Time
	Description *string
	CategoryID  *CategoryID
	SourceID    *SourceID
}

func (in UpdateTransactionInput) validate() error {
	if in.Amount != nil && !in.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if in.Type != nil && !in.Type.Valid() {
		return &ValidationError{Field: "type", Message: "must be income or expense"}
	}
	if in.Date != nil && in.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "must not be empty"}
	}
	if in.CategoryID != nil && *in.CategoryID == "" {
		return &ReferenceError{Kind: "category"}
	}
	if in.SourceID != nil && *in.SourceID == "" {
		return &ReferenceError{Kind: "source"}
	}
	return nil
}

func (in UpdateTransactionInput) merge(tx Transaction) Transaction {
	if in.Amount != nil {
		tx.Amount = *in.Amount
	}
	if in.Type != nil {
		tx.Type = *in.Type
	}
	if in.Date != nil {
		tx.Date = *in.Date
	}
	if in.Description != nil {
		tx.Description = strings.TrimSpace(*in.Description)
	}
	if in.CategoryID != nil {
		tx.CategoryID = *in.CategoryID
	}
	if in.SourceID != nil {
		tx.SourceID = *in.SourceID
	}
	return tx
}

// DeleteResult confirms a single deletion.
type DeleteResult struct {
	TransactionID TransactionID
	Amount        decimal.Decimal
	Type          TransactionType
	SourceID      SourceID
	SourceBalance decimal.Decimal
}

// =============================================================================
// CREATE
// =============================================================================

// CreateTransaction records a new transaction and applies it to its source.
func (e *Engine) CreateTransaction(ctx context.Context, ownerID OwnerID, in CreateTransactionInput) (*Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := e.now()
	tx := Transaction{
		ID:          TransactionID(e.newID()),
		OwnerID:     ownerID,
		Amount:      in.Amount,
		Type:        in.Type,
		Date:        in.Date,
		Description: strings.TrimSpace(in.Description),
		CategoryID:  in.CategoryID,
		SourceID:    in.SourceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if tx.Date.IsZero() {
		tx.Date = now
	}

	var (
		cat *Category
		src *Source
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		if cat, err = loadCategoryRef(ctx, s, ownerID, tx.CategoryID); err != nil {
			return err
		}
		if err := checkCategoryType(cat, tx.Type); err != nil {
			return err
		}
		if src, err = loadSourceRef(ctx, s, ownerID, tx.SourceID); err != nil {
			return err
		}
		if err := ApplyEffect(src, tx); err != nil {
			return err
		}
		src.UpdatedAt = now

		if err := s.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return s.SaveSource(ctx, *src)
	})
	if err != nil {
		e.logger.DebugContext(ctx, "create transaction rejected",
			"owner_id", ownerID, "source_id", in.SourceID, "type", in.Type, "error", err)
		return nil, err
	}

	tx.Category, tx.Source = cat, src
	e.logger.InfoContext(ctx, "transaction created",
		"owner_id", ownerID,
		"transaction_id", tx.ID,
		"type", tx.Type,
		"amount", tx.Amount.String(),
		"source_id", tx.SourceID,
		"balance", src.Balance.String())
	e.publish(ctx, events.TransactionCreated, ownerID, []TransactionID{tx.ID}, []SourceID{tx.SourceID})
	return &tx, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateTransaction changes any subset of a transaction's fields, moving its
// effect from the old (amount, type, source) to the new one atomically.
func (e *Engine) UpdateTransaction(ctx context.Context, ownerID OwnerID, id TransactionID, in UpdateTransactionInput) (*Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		next   Transaction
		cat    *Category
		newSrc *Source
		oldID  SourceID
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		cur, err := loadOwnedTransaction(ctx, s, ownerID, id)
		if err != nil {
			return err
		}
		oldID = cur.SourceID

		oldSrc, err := s.GetSource(ctx, cur.SourceID)
		if err != nil {
			return err
		}
		if oldSrc == nil || oldSrc.OwnerID != ownerID {
			return &NotFoundError{Kind: "source", ID: string(cur.SourceID)}
		}
		ReverseEffect(oldSrc, *cur)

		next = in.merge(*cur)
		newSrc = oldSrc
		if next.SourceID != cur.SourceID {
			if newSrc, err = loadSourceRef(ctx, s, ownerID, next.SourceID); err != nil {
				return err
			}
		}
		if err := ApplyEffect(newSrc, next); err != nil {
			return err
		}

		if cat, err = loadCategoryRef(ctx, s, ownerID, next.CategoryID); err != nil {
			return err
		}
		if err := checkCategoryType(cat, next.Type); err != nil {
			return err
		}

		now := e.now()
		next.UpdatedAt = now
		oldSrc.UpdatedAt = now
		newSrc.UpdatedAt = now

		if err := s.UpdateTransaction(ctx, next); err != nil {
			return err
		}
		if err := s.SaveSource(ctx, *oldSrc); err != nil {
			return err
		}
		if newSrc != oldSrc {
			return s.SaveSource(ctx, *newSrc)
		}
		return nil
	})
	if err != nil {
		e.logger.DebugContext(ctx, "update transaction rejected",
			"owner_id", ownerID, "transaction_id", id, "error", err)
		return nil, err
	}

	next.Category, next.Source = cat, newSrc
	touched := []SourceID{next.SourceID}
	if oldID != next.SourceID {
		touched = append(touched, oldID)
	}
	e.logger.InfoContext(ctx, "transaction updated",
		"owner_id", ownerID,
		"transaction_id", id,
		"type", next.Type,
		"amount", next.Amount.String(),
		"source_id", next.SourceID)
	e.publish(ctx, events.TransactionUpdated, ownerID, []TransactionID{id}, touched)
	return &next, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteTransaction removes a transaction and reverses its effect.
func (e *Engine) DeleteTransaction(ctx context.Context, ownerID OwnerID, id TransactionID) (*DeleteResult, error) {
	var res DeleteResult
	err := e.store.WithTx(ctx, func(s Store) error {
		cur, err := loadOwnedTransaction(ctx, s, ownerID, id)
		if err != nil {
			return err
		}
		src, err := s.GetSource(ctx, cur.SourceID)
		if err != nil {
			return err
		}
		if src == nil || src.OwnerID != ownerID {
			return &NotFoundError{Kind: "source", ID: string(cur.SourceID)}
		}

		ReverseEffect(src, *cur)
		src.UpdatedAt = e.now()
		if err := s.SaveSource(ctx, *src); err != nil {
			return err
		}
		if err := s.DeleteTransactions(ctx, []TransactionID{id}); err != nil {
			return err
		}

		res = DeleteResult{
			TransactionID: id,
			Amount:        cur.Amount,
			Type:          cur.Type,
			SourceID:      src.ID,
			SourceBalance: src.Balance,
		}
		return nil
	})
	if err != nil {
		e.logger.DebugContext(ctx, "delete transaction rejected",
			"owner_id", ownerID, "transaction_id", id, "error", err)
		return nil, err
	}

	e.logger.InfoContext(ctx, "transaction deleted",
		"owner_id", ownerID,
		"transaction_id", id,
		"amount", res.Amount.String(),
		"source_id", res.SourceID,
		"balance", res.SourceBalance.String())
	e.publish(ctx, events.TransactionDeleted, ownerID, []TransactionID{id}, []SourceID{res.SourceID})
	return &res, nil
}

// =============================================================================
// READS
// =============================================================================

// GetTransaction returns one of the owner's transactions with its category
// and source populated.
func (e *Engine) GetTransaction(ctx context.Context, ownerID OwnerID, id TransactionID) (*Transaction, error) {
	tx, err := loadOwnedTransaction(ctx, e.store, ownerID, id)
	if err != nil {
		return nil, err
	}
	if tx.Category, err = e.store.GetCategory(ctx, tx.CategoryID); err != nil {
		return nil, err
	}
	if tx.Source, err = e.store.GetSource(ctx, tx.SourceID); err != nil {
		return nil, err
	}
	return tx, nil
}

func (e *Engine) ListTransactions(ctx context.Context, ownerID OwnerID, filter TransactionFilter) ([]Transaction, error) {
	if filter.Type != "" {
		if _, err := ParseTypeFilter(string(filter.Type)); err != nil {
			return nil, err
		}
	}
	if filter.Limit < 0 {
		return nil, &ValidationError{Field: "limit", Message: "must not be negative"}
	}
	return e.store.ListTransactions(ctx, ownerID, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func loadOwnedTransaction(ctx context.Context, s Store, ownerID OwnerID, id TransactionID) (*Transaction, error) {
	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, &NotFoundError{Kind: "transaction", ID: string(id)}
	}
	if tx.OwnerID != ownerID {
		return nil, ErrPermissionDenied
	}
	return tx, nil
}

// loadSourceRef resolves a source reference. Missing and foreign sources
// both surface as InvalidReference.
func loadSourceRef(ctx context.Context, s Store, ownerID OwnerID, id SourceID) (*Source, error) {
	src, err := s.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if src == nil || src.OwnerID != ownerID {
		return nil, &ReferenceError{Kind: "source", ID: string(id)}
	}
	return src, nil
}

func loadCategoryRef(ctx context.Context, s Store, ownerID OwnerID, id CategoryID) (*Category, error) {
	cat, err := s.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat == nil || cat.OwnerID != ownerID {
		return nil, &ReferenceError{Kind: "category", ID: string(id)}
	}
	return cat, nil
}

func checkCategoryType(cat *Category, t TransactionType) error {
	if cat.Type != t {
		return &ValidationError{
			Field:   "category",
			Message: fmt.Sprintf("category %q is for %s, transaction is %s", cat.Name, cat.Type, t),
		}
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, kind events.Kind, ownerID OwnerID, txIDs []TransactionID, srcIDs []SourceID) {
	ev := events.LedgerEvent{
		Kind:           kind,
		OwnerID:        string(ownerID),
		TransactionIDs: make([]string, len(txIDs)),
		SourceIDs:      make([]string, len(srcIDs)),
		OccurredAt:     e.now(),
	}
	for i, id := range txIDs {
		ev.TransactionIDs[i] = string(id)
	}
	for i, id := range srcIDs {
		ev.SourceIDs[i] = string(id)
	}
	if err := e.publisher.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.WarnContext(ctx, "failed to publish ledger event",
			"kind", kind, "owner_id", ownerID, "error", err)
	}
}
