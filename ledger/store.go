/*
store.go - Persistence interfaces for sources, categories and transactions

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  never talks SQL; it talks to these interfaces.

KEY INTERFACES:
  SourceStore:      Source records (cached balance lives here)
  CategoryStore:    Category records
  TransactionStore: Transaction rows
  Store:            All three
  TxStore:          Store + WithTx (the atomic unit)
  SnapshotReader:   Optional consistent multi-read view

ATOMIC UNIT:
  WithTx(ctx, fn) runs fn against a transactional view of the store.
  If fn returns an error, every write made through the view is rolled
  back. If fn returns nil, all writes commit together. Implementations
  must also serialize concurrent units touching the same source so that
  a read-modify-write of Source.Balance can never lose an update.

NOT FOUND:
  Get* methods return (nil, nil) when the record does not exist. The
  engine turns that into the right error kind for the call site
  (NotFound for the subject of the call, InvalidReference for a ref).

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, snapshot rollback (tests, dev)
  - store/sqlite:           SQLite (mattn/go-sqlite3)
  - store/postgres:         PostgreSQL (lib/pq), SELECT ... FOR UPDATE

SEE ALSO:
  - engine.go: Only caller of WithTx
*/
package ledger

import "context"

// =============================================================================
// STORE - Interfaces for persistence
// =============================================================================

type SourceStore interface {
	GetSource(ctx context.Context, id SourceID) (*Source, error)

	// ListSources returns the owner's sources, oldest first.
	ListSources(ctx context.Context, ownerID OwnerID) ([]Source, error)

	// ListOwners returns every owner that has at least one source.
	ListOwners(ctx context.Context) ([]OwnerID, error)

	// SaveSource inserts or replaces a source.
	SaveSource(ctx context.Context, src Source) error

	DeleteSource(ctx context.Context, id SourceID) error
}

type CategoryStore interface {
	GetCategory(ctx context.Context, id CategoryID) (*Category, error)
	ListCategories(ctx context.Context, ownerID OwnerID) ([]Category, error)
	SaveCategory(ctx context.Context, cat Category) error
	DeleteCategory(ctx context.Context, id CategoryID) error
}

type TransactionStore interface {
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// ListTransactions returns the owner's transactions, newest date first.
	ListTransactions(ctx context.Context, ownerID OwnerID, filter TransactionFilter) ([]Transaction, error)

	InsertTransaction(ctx context.Context, tx Transaction) error
	UpdateTransaction(ctx context.Context, tx Transaction) error

	// DeleteTransactions removes every listed row in one statement.
	DeleteTransactions(ctx context.Context, ids []TransactionID) error

	CountBySource(ctx context.Context, id SourceID) (int, error)
	CountByCategory(ctx context.Context, id CategoryID) (int, error)
}

type Store interface {
	SourceStore
	CategoryStore
	TransactionStore
}

// =============================================================================
// TRANSACTIONAL STORE - The atomic unit
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// SnapshotReader is implemented by stores that can serve several reads
// from one consistent view without blocking writers on row locks.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, fn func(Store) error) error
}
