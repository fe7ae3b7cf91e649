package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-engine/ledger"
)

// ErrConcurrentDelete marks a delete that found fewer rows than it was
// asked to remove.
var ErrConcurrentDelete = errors.New("rows deleted concurrently")

// deleteChunk bounds the number of placeholders in one DELETE ... IN (...).
const deleteChunk = 500

// Queries implements ledger.Store against a pool or a *sql.Tx.
type Queries struct {
	q queryer
	d Dialect

	// lock is set inside write units on dialects that lock rows.
	lock bool
}

func (s *Queries) forUpdate(query string) string {
	if s.lock {
		return query + ` FOR UPDATE`
	}
	return query
}

func (s *Queries) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := s.q.ExecContext(ctx, s.d.Rebind(query), args...)
	if err != nil {
		return nil, ledger.NewStorageError(op, err)
	}
	return res, nil
}

// =============================================================================
// SOURCES
// =============================================================================

const sourceColumns = `id, owner_id, name, type, balance, opening_balance, status,
	interest_rate, category, transfer_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (ledger.Source, error) {
	var (
		src                    ledger.Source
		balance, opening, rate decimal.Decimal
		createdAt, updatedAt   time.Time
	)
	err := row.Scan(&src.ID, &src.OwnerID, &src.Name, &src.Type, &balance, &opening,
		&src.Status, &rate, &src.Category, &src.TransferTime, &createdAt, &updatedAt)
	if err != nil {
		return src, err
	}
	src.Balance = balance
	src.OpeningBalance = opening
	src.InterestRate = rate
	src.CreatedAt = createdAt.UTC()
	src.UpdatedAt = updatedAt.UTC()
	return src, nil
}

// GetSource reads one source. Inside a unit on PostgreSQL the row is
// locked until the unit ends.
func (s *Queries) GetSource(ctx context.Context, id ledger.SourceID) (*ledger.Source, error) {
	query := s.forUpdate(`SELECT ` + sourceColumns + ` FROM sources WHERE id = ?`)
	src, err := scanSource(s.q.QueryRowContext(ctx, s.d.Rebind(query), id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.NewStorageError("get source", err)
	}
	return &src, nil
}

func (s *Queries) ListSources(ctx context.Context, ownerID ledger.OwnerID) ([]ledger.Source, error) {
	rows, err := s.q.QueryContext(ctx, s.d.Rebind(
		`SELECT `+sourceColumns+` FROM sources WHERE owner_id = ? ORDER BY created_at ASC, seq ASC`), ownerID)
	if err != nil {
		return nil, ledger.NewStorageError("list sources", err)
	}
	defer rows.Close()

	sources := []ledger.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, ledger.NewStorageError("scan source", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("list sources", err)
	}
	return sources, nil
}

func (s *Queries) ListOwners(ctx context.Context) ([]ledger.OwnerID, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT DISTINCT owner_id FROM sources ORDER BY owner_id`)
	if err != nil {
		return nil, ledger.NewStorageError("list owners", err)
	}
	defer rows.Close()

	var owners []ledger.OwnerID
	for rows.Next() {
		var id ledger.OwnerID
		if err := rows.Scan(&id); err != nil {
			return nil, ledger.NewStorageError("scan owner", err)
		}
		owners = append(owners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("list owners", err)
	}
	return owners, nil
}

func (s *Queries) SaveSource(ctx context.Context, src ledger.Source) error {
	_, err := s.exec(ctx, "save source", `
		INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			balance = excluded.balance,
			opening_balance = excluded.opening_balance,
			status = excluded.status,
			interest_rate = excluded.interest_rate,
			category = excluded.category,
			transfer_time = excluded.transfer_time,
			updated_at = excluded.updated_at
	`,
		src.ID, src.OwnerID, src.Name, src.Type,
		src.Balance.String(), src.OpeningBalance.String(),
		src.Status, src.InterestRate.String(),
		src.Category, src.TransferTime,
		src.CreatedAt.UTC(), src.UpdatedAt.UTC(),
	)
	return err
}

func (s *Queries) DeleteSource(ctx context.Context, id ledger.SourceID) error {
	_, err := s.exec(ctx, "delete source", `DELETE FROM sources WHERE id = ?`, id)
	return err
}

// =============================================================================
// CATEGORIES
// =============================================================================

const categoryColumns = `id, owner_id, name, type, classification, created_at`

func scanCategory(row rowScanner) (ledger.Category, error) {
	var (
		cat       ledger.Category
		createdAt time.Time
	)
	if err := row.Scan(&cat.ID, &cat.OwnerID, &cat.Name, &cat.Type, &cat.Classification, &createdAt); err != nil {
		return cat, err
	}
	cat.CreatedAt = createdAt.UTC()
	return cat, nil
}

func (s *Queries) GetCategory(ctx context.Context, id ledger.CategoryID) (*ledger.Category, error) {
	cat, err := scanCategory(s.q.QueryRowContext(ctx, s.d.Rebind(
		`SELECT `+categoryColumns+` FROM categories WHERE id = ?`), id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.NewStorageError("get category", err)
	}
	return &cat, nil
}

func (s *Queries) ListCategories(ctx context.Context, ownerID ledger.OwnerID) ([]ledger.Category, error) {
	rows, err := s.q.QueryContext(ctx, s.d.Rebind(
		`SELECT `+categoryColumns+` FROM categories WHERE owner_id = ? ORDER BY seq ASC`), ownerID)
	if err != nil {
		return nil, ledger.NewStorageError("list categories", err)
	}
	defer rows.Close()

	cats := []ledger.Category{}
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, ledger.NewStorageError("scan category", err)
		}
		cats = append(cats, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("list categories", err)
	}
	return cats, nil
}

func (s *Queries) SaveCategory(ctx context.Context, cat ledger.Category) error {
	_, err := s.exec(ctx, "save category", `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			classification = excluded.classification
	`, cat.ID, cat.OwnerID, cat.Name, cat.Type, cat.Classification, cat.CreatedAt.UTC())
	return err
}

func (s *Queries) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	_, err := s.exec(ctx, "delete category", `DELETE FROM categories WHERE id = ?`, id)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, owner_id, amount, type, date, description,
	category_id, source_id, created_at, updated_at`

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		tx                         ledger.Transaction
		amount                     decimal.Decimal
		date, createdAt, updatedAt time.Time
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &amount, &tx.Type, &date, &tx.Description,
		&tx.CategoryID, &tx.SourceID, &createdAt, &updatedAt)
	if err != nil {
		return tx, err
	}
	tx.Amount = amount
	tx.Date = date.UTC()
	tx.CreatedAt = createdAt.UTC()
	tx.UpdatedAt = updatedAt.UTC()
	return tx, nil
}

// GetTransaction reads one transaction, locked like GetSource. A unit that
// waited on a concurrent delete of the row sees no row.
func (s *Queries) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, err := scanTransaction(s.q.QueryRowContext(ctx, s.d.Rebind(
		s.forUpdate(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`)), id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.NewStorageError("get transaction", err)
	}
	return &tx, nil
}

func (s *Queries) ListTransactions(ctx context.Context, ownerID ledger.OwnerID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE owner_id = ?`)
	args := []any{ownerID}

	if filter.Type != "" && filter.Type != ledger.FilterAll {
		b.WriteString(` AND type = ?`)
		args = append(args, string(filter.Type))
	}
	if filter.SourceID != "" {
		b.WriteString(` AND source_id = ?`)
		args = append(args, filter.SourceID)
	}
	if !filter.From.IsZero() {
		b.WriteString(` AND date >= ?`)
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		b.WriteString(` AND date <= ?`)
		args = append(args, filter.To.UTC())
	}
	b.WriteString(` ORDER BY date DESC, seq DESC`)
	if filter.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, s.d.Rebind(s.forUpdate(b.String())), args...)
	if err != nil {
		return nil, ledger.NewStorageError("list transactions", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, ledger.NewStorageError("scan transaction", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("list transactions", err)
	}
	return txs, nil
}

func (s *Queries) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.exec(ctx, "insert transaction", `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.OwnerID, tx.Amount.String(), tx.Type, tx.Date.UTC(), tx.Description,
		tx.CategoryID, tx.SourceID, tx.CreatedAt.UTC(), tx.UpdatedAt.UTC(),
	)
	return err
}

func (s *Queries) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	res, err := s.exec(ctx, "update transaction", `
		UPDATE transactions SET
			amount = ?, type = ?, date = ?, description = ?,
			category_id = ?, source_id = ?, updated_at = ?
		WHERE id = ?
	`,
		tx.Amount.String(), tx.Type, tx.Date.UTC(), tx.Description,
		tx.CategoryID, tx.SourceID, tx.UpdatedAt.UTC(), tx.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &ledger.NotFoundError{Kind: "transaction", ID: string(tx.ID)}
	}
	return nil
}

func (s *Queries) DeleteTransactions(ctx context.Context, ids []ledger.TransactionID) error {
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		res, err := s.exec(ctx, "delete transactions",
			`DELETE FROM transactions WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return err
		}
		// A row deleted by a concurrent unit means our reversal was computed
		// from a stale read.
		if n, err := res.RowsAffected(); err == nil && n != int64(len(chunk)) {
			return ledger.NewStorageError("delete transactions",
				fmt.Errorf("%w: %d of %d rows already deleted", ErrConcurrentDelete, int64(len(chunk))-n, len(chunk)))
		}
	}
	return nil
}

func (s *Queries) CountBySource(ctx context.Context, id ledger.SourceID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, s.d.Rebind(
		`SELECT COUNT(*) FROM transactions WHERE source_id = ?`), id).Scan(&n)
	if err != nil {
		return 0, ledger.NewStorageError("count transactions by source", err)
	}
	return n, nil
}

func (s *Queries) CountByCategory(ctx context.Context, id ledger.CategoryID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, s.d.Rebind(
		`SELECT COUNT(*) FROM transactions WHERE category_id = ?`), id).Scan(&n)
	if err != nil {
		return 0, ledger.NewStorageError("count transactions by category", err)
	}
	return n, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

func (s *Queries) deleteAll(ctx context.Context) error {
	for _, table := range []string{"transactions", "categories", "sources"} {
		if _, err := s.exec(ctx, "reset "+table, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return nil
}
