/*
Package sqldb implements ledger.TxStore on top of database/sql.

PURPOSE:
  The SQLite and PostgreSQL stores share every query. The only
  differences are captured in a Dialect:
  - placeholder style (? vs $1)
  - how a unit keeps two writers from reading the same stale balance

CONCURRENCY:
  SQLite:     Units are serialized in-process by a mutex and the
              connection is opened with _txlock=immediate, so the write
              lock is taken at BEGIN rather than at the first write.
  PostgreSQL: Inside a unit, sources and transactions are read with
              SELECT ... FOR UPDATE. A second unit touching the same
              row blocks until the first commits and then reads the
              committed value, or no row at all if it was deleted.
              DeleteTransactions also fails the unit when a row it was
              asked to delete is already gone.

SNAPSHOTS:
  ReadSnapshot serves several reads from one consistent view without
  taking row locks (REPEATABLE READ, READ ONLY on PostgreSQL).

ERRORS:
  Every driver error is wrapped in ledger.StorageError. sql.ErrNoRows
  from a Get* becomes (nil, nil), which the engine maps to the right kind.

SEE ALSO:
  - store/sqlite:   Opens mattn/go-sqlite3 and runs migrations
  - store/postgres: Opens lib/pq and runs migrations
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// DIALECT
// =============================================================================

type Dialect struct {
	Name string

	// Numbered placeholders ($1, $2, ...) instead of ?.
	NumberedPlaceholders bool

	// Append FOR UPDATE to source and transaction reads inside a unit.
	LockRows bool

	// Isolation for ReadSnapshot; the default level keeps the driver's.
	SnapshotIsolation sql.IsolationLevel

	// Hold a process-wide mutex for the whole unit.
	SerializeUnits bool
}

var (
	SQLite = Dialect{Name: "sqlite3", SerializeUnits: true}

	Postgres = Dialect{
		Name:                 "postgres",
		NumberedPlaceholders: true,
		LockRows:             true,
		SnapshotIsolation:    sql.LevelRepeatableRead,
	}
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// DB - ledger.TxStore
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB implements ledger.TxStore. Outside a unit, the embedded Queries run
// directly against the pool.
type DB struct {
	*Queries
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{
		Queries: &Queries{q: db, d: dialect},
		db:      db,
		dialect: dialect,
	}
}

// WithTx executes fn within a database transaction.
func (s *DB) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if s.dialect.SerializeUnits {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.NewStorageError("begin transaction", err)
	}
	defer sqlTx.Rollback()

	txQueries := &Queries{q: sqlTx, d: s.dialect, lock: s.dialect.LockRows}
	if err := fn(txQueries); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.NewStorageError("commit transaction", err)
	}
	return nil
}

// ReadSnapshot runs fn against a read-only view in which every read sees
// the same committed state. Nothing written through the view is kept.
func (s *DB) ReadSnapshot(ctx context.Context, fn func(ledger.Store) error) error {
	if s.dialect.SerializeUnits {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	var opts *sql.TxOptions
	if s.dialect.SnapshotIsolation != sql.LevelDefault {
		opts = &sql.TxOptions{Isolation: s.dialect.SnapshotIsolation, ReadOnly: true}
	}
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return ledger.NewStorageError("begin snapshot", err)
	}
	defer sqlTx.Rollback()

	return fn(&Queries{q: sqlTx, d: s.dialect})
}

// Reset clears all data (for demos and tests).
func (s *DB) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.(*Queries).deleteAll(ctx)
	})
}

func (s *DB) Close() error {
	return s.db.Close()
}

// SQL exposes the pool for health checks.
func (s *DB) SQL() *sql.DB {
	return s.db
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
