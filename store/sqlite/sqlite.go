/*
Package sqlite provides a SQLite-backed ledger.TxStore.

PURPOSE:
  Opens a mattn/go-sqlite3 database, brings the schema up to date with
  golang-migrate, and hands the pool to store/sqldb which holds every
  query shared with PostgreSQL.

KEY TABLES:
  sources:      Money containers with a cached balance and an opening balance
  categories:   Income/expense labels, unique per owner+type by convention
  transactions: One row per income/expense, FK to a category and a source

CONCURRENCY:
  The DSN sets _txlock=immediate, so every unit takes the database write
  lock at BEGIN. Two processes sharing the file cannot both read a balance
  and then both write it. Inside one process sqldb also serializes units
  with a mutex, which keeps SQLITE_BUSY off the hot path.

WAL MODE:
  File databases are opened with WAL for concurrent readers. ":memory:"
  databases are pinned to one connection, since every new connection
  would otherwise see its own empty database.

USAGE:
  st, err := sqlite.New("./data/finance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  engine := ledger.NewEngine(st)

MIGRATION:
  Versioned SQL files under migrations/ are embedded and applied on New().

SEE ALSO:
  - store/sqldb:    Queries and WithTx
  - store/postgres: Same schema on PostgreSQL
  - ledger/store:   In-memory implementation for tests
*/
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/finance-engine/store/sqldb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements ledger.TxStore using SQLite.
type Store struct {
	*sqldb.DB
}

// New opens (or creates) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{DB: sqldb.New(db, sqldb.SQLite)}, nil
}

func dsn(dbPath string) string {
	params := []string{"_foreign_keys=on", "_busy_timeout=5000", "_txlock=immediate"}
	if dbPath != ":memory:" {
		params = append(params, "_journal_mode=WAL")
	}
	return dbPath + "?" + strings.Join(params, "&")
}

// runMigrations applies the embedded migrations on db. The migrate
// instance is not closed because that would close db as well; only the
// embedded source is released.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	defer src.Close()

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
