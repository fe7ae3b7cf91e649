// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore and ledger.SnapshotReader. WithTx holds
// the write lock for the whole unit, so units are serialized, and restores
// a snapshot on error or panic.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

type sourceRow struct {
	ledger.Source
	seq int64
}

type categoryRow struct {
	ledger.Category
	seq int64
}

type txRow struct {
	ledger.Transaction
	seq int64
}

type data struct {
	sources      map[ledger.SourceID]sourceRow
	categories   map[ledger.CategoryID]categoryRow
	transactions map[ledger.TransactionID]txRow
	seq          int64
}

func newData() *data {
	return &data{
		sources:      make(map[ledger.SourceID]sourceRow),
		categories:   make(map[ledger.CategoryID]categoryRow),
		transactions: make(map[ledger.TransactionID]txRow),
	}
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot that is restored
// unless fn returns nil, so an error or a panic rolls back.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.d.clone()
	committed := false
	defer func() {
		if !committed {
			m.d = snapshot
		}
	}()

	if err := fn(m.d); err != nil {
		return err
	}
	committed = true
	return nil
}

// ReadSnapshot holds the read lock while fn runs, so no unit can commit
// between its reads.
func (m *Memory) ReadSnapshot(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(readOnly{m.d})
}

// Reset clears all data (for demos and tests).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = newData()
	return nil
}

// Close is a no-op; it lets Memory stand in for the SQL stores.
func (m *Memory) Close() error { return nil }

func (d *data) clone() *data {
	c := &data{
		sources:      make(map[ledger.SourceID]sourceRow, len(d.sources)),
		categories:   make(map[ledger.CategoryID]categoryRow, len(d.categories)),
		transactions: make(map[ledger.TransactionID]txRow, len(d.transactions)),
		seq:          d.seq,
	}
	for k, v := range d.sources {
		c.sources[k] = v
	}
	for k, v := range d.categories {
		c.categories[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	return c
}

func (d *data) next() int64 {
	d.seq++
	return d.seq
}

// =============================================================================
// LOCKED ACCESS - ledger.Store outside a unit
// =============================================================================

func (m *Memory) GetSource(ctx context.Context, id ledger.SourceID) (*ledger.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetSource(ctx, id)
}

func (m *Memory) ListSources(ctx context.Context, ownerID ledger.OwnerID) ([]ledger.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListSources(ctx, ownerID)
}

func (m *Memory) ListOwners(ctx context.Context) ([]ledger.OwnerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListOwners(ctx)
}

func (m *Memory) SaveSource(ctx context.Context, src ledger.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveSource(ctx, src)
}

func (m *Memory) DeleteSource(ctx context.Context, id ledger.SourceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteSource(ctx, id)
}

func (m *Memory) GetCategory(ctx context.Context, id ledger.CategoryID) (*ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetCategory(ctx, id)
}

func (m *Memory) ListCategories(ctx context.Context, ownerID ledger.OwnerID) ([]ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListCategories(ctx, ownerID)
}

func (m *Memory) SaveCategory(ctx context.Context, cat ledger.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveCategory(ctx, cat)
}

func (m *Memory) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteCategory(ctx, id)
}

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetTransaction(ctx, id)
}

func (m *Memory) ListTransactions(ctx context.Context, ownerID ledger.OwnerID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListTransactions(ctx, ownerID, filter)
}

func (m *Memory) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertTransaction(ctx, tx)
}

func (m *Memory) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateTransaction(ctx, tx)
}

func (m *Memory) DeleteTransactions(ctx context.Context, ids []ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteTransactions(ctx, ids)
}

func (m *Memory) CountBySource(ctx context.Context, id ledger.SourceID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.CountBySource(ctx, id)
}

func (m *Memory) CountByCategory(ctx context.Context, id ledger.CategoryID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.CountByCategory(ctx, id)
}

// =============================================================================
// READ-ONLY VIEW - handed to ReadSnapshot callbacks
// =============================================================================

var errReadOnly = errors.New("write through a read-only snapshot")

type readOnly struct {
	*data
}

func (readOnly) SaveSource(context.Context, ledger.Source) error {
	return ledger.NewStorageError("save source", errReadOnly)
}

func (readOnly) DeleteSource(context.Context, ledger.SourceID) error {
	return ledger.NewStorageError("delete source", errReadOnly)
}

func (readOnly) SaveCategory(context.Context, ledger.Category) error {
	return ledger.NewStorageError("save category", errReadOnly)
}

func (readOnly) DeleteCategory(context.Context, ledger.CategoryID) error {
	return ledger.NewStorageError("delete category", errReadOnly)
}

func (readOnly) InsertTransaction(context.Context, ledger.Transaction) error {
	return ledger.NewStorageError("insert transaction", errReadOnly)
}

func (readOnly) UpdateTransaction(context.Context, ledger.Transaction) error {
	return ledger.NewStorageError("update transaction", errReadOnly)
}

func (readOnly) DeleteTransactions(context.Context, []ledger.TransactionID) error {
	return ledger.NewStorageError("delete transactions", errReadOnly)
}

// =============================================================================
// UNLOCKED ACCESS - the view handed to WithTx callbacks
// =============================================================================

func (d *data) GetSource(_ context.Context, id ledger.SourceID) (*ledger.Source, error) {
	row, ok := d.sources[id]
	if !ok {
		return nil, nil
	}
	src := row.Source
	return &src, nil
}

func (d *data) ListSources(_ context.Context, ownerID ledger.OwnerID) ([]ledger.Source, error) {
	rows := make([]sourceRow, 0)
	for _, row := range d.sources {
		if row.OwnerID == ownerID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]ledger.Source, len(rows))
	for i, row := range rows {
		out[i] = row.Source
	}
	return out, nil
}

func (d *data) ListOwners(_ context.Context) ([]ledger.OwnerID, error) {
	seen := make(map[ledger.OwnerID]bool)
	var owners []ledger.OwnerID
	for _, row := range d.sources {
		if !seen[row.OwnerID] {
			seen[row.OwnerID] = true
			owners = append(owners, row.OwnerID)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

func (d *data) SaveSource(_ context.Context, src ledger.Source) error {
	row, ok := d.sources[src.ID]
	if !ok {
		row.seq = d.next()
	}
	row.Source = src
	d.sources[src.ID] = row
	return nil
}

func (d *data) DeleteSource(_ context.Context, id ledger.SourceID) error {
	delete(d.sources, id)
	return nil
}

func (d *data) GetCategory(_ context.Context, id ledger.CategoryID) (*ledger.Category, error) {
	row, ok := d.categories[id]
	if !ok {
		return nil, nil
	}
	cat := row.Category
	return &cat, nil
}

func (d *data) ListCategories(_ context.Context, ownerID ledger.OwnerID) ([]ledger.Category, error) {
	rows := make([]categoryRow, 0)
	for _, row := range d.categories {
		if row.OwnerID == ownerID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]ledger.Category, len(rows))
	for i, row := range rows {
		out[i] = row.Category
	}
	return out, nil
}

func (d *data) SaveCategory(_ context.Context, cat ledger.Category) error {
	row, ok := d.categories[cat.ID]
	if !ok {
		row.seq = d.next()
	}
	row.Category = cat
	d.categories[cat.ID] = row
	return nil
}

func (d *data) DeleteCategory(_ context.Context, id ledger.CategoryID) error {
	delete(d.categories, id)
	return nil
}

func (d *data) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	row, ok := d.transactions[id]
	if !ok {
		return nil, nil
	}
	tx := row.Transaction
	return &tx, nil
}

func (d *data) ListTransactions(_ context.Context, ownerID ledger.OwnerID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	rows := make([]txRow, 0)
	for _, row := range d.transactions {
		if row.OwnerID != ownerID || !filter.Type.Matches(row.Type) {
			continue
		}
		if filter.SourceID != "" && row.SourceID != filter.SourceID {
			continue
		}
		if !filter.From.IsZero() && row.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && row.Date.After(filter.To) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.After(rows[j].Date)
		}
		return rows[i].seq > rows[j].seq
	})
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	out := make([]ledger.Transaction, len(rows))
	for i, row := range rows {
		out[i] = row.Transaction
	}
	return out, nil
}

func (d *data) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	tx.Category, tx.Source = nil, nil
	d.transactions[tx.ID] = txRow{Transaction: tx, seq: d.next()}
	return nil
}

func (d *data) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	row, ok := d.transactions[tx.ID]
	if !ok {
		return &ledger.NotFoundError{Kind: "transaction", ID: string(tx.ID)}
	}
	tx.Category, tx.Source = nil, nil
	row.Transaction = tx
	d.transactions[tx.ID] = row
	return nil
}

func (d *data) DeleteTransactions(_ context.Context, ids []ledger.TransactionID) error {
	for _, id := range ids {
		delete(d.transactions, id)
	}
	return nil
}

func (d *data) CountBySource(_ context.Context, id ledger.SourceID) (int, error) {
	n := 0
	for _, row := range d.transactions {
		if row.SourceID == id {
			n++
		}
	}
	return n, nil
}

func (d *data) CountByCategory(_ context.Context, id ledger.CategoryID) (int, error) {
	n := 0
	for _, row := range d.transactions {
		if row.CategoryID == id {
			n++
		}
	}
	return n, nil
}
