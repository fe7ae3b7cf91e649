// Package backend opens the configured ledger store.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/warp/finance-engine/config"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/ledger/store"
	"github.com/warp/finance-engine/store/postgres"
	"github.com/warp/finance-engine/store/sqlite"
)

// Store is what the binaries need from any backend.
type Store interface {
	ledger.TxStore
	Reset(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.DataBackend, migrated and ready.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.DataBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory(), nil

	case config.BackendSQLite:
		if cfg.SQLiteDBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLiteDBPath), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		st, err := sqlite.New(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("sqlite store ready", "path", cfg.SQLiteDBPath)
		return st, nil

	case config.BackendPostgres:
		st, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Info("postgres store ready")
		return st, nil

	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}
