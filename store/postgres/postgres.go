/*
Package postgres provides a PostgreSQL-backed ledger.TxStore.

PURPOSE:
  Opens a lib/pq pool, waits for the server to accept connections,
  applies the embedded migrations and wraps the pool in store/sqldb.

CONCURRENCY:
  Units run at READ COMMITTED. Inside a unit every source is read with
  SELECT ... FOR UPDATE, so two units touching the same source are
  serialized on the row lock and the second sees the first's balance.

SEE ALSO:
  - store/sqldb:  Queries and WithTx
  - store/sqlite: Same schema on SQLite
*/
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/warp/finance-engine/store/sqldb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

type Store struct {
	*sqldb.DB
}

// New connects to databaseURL, retrying while the server starts up, and
// migrates the schema.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := waitForDB(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := runMigrations(databaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.InfoContext(ctx, "database connection established", "backend", "postgres")

	return &Store{DB: sqldb.New(db, sqldb.Postgres)}, nil
}

func waitForDB(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		logger.InfoContext(ctx, "waiting for database", "attempt", attempt, "of", connectAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return fmt.Errorf("could not reach database after %d attempts: %w", connectAttempts, err)
}

// runMigrations uses its own connection: the migrate postgres driver
// holds a dedicated conn and closes its *sql.DB on Close.
func runMigrations(databaseURL string) error {
	migrateDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratepg.WithInstance(migrateDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
