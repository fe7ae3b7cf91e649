// Package events carries post-commit ledger change notifications.
//
// The engine publishes one LedgerEvent after each committed mutation.
// Publishing is best-effort: a failure is logged by the caller and never
// undoes the committed change.
package events

import (
	"context"
	"encoding/json"
	"time"
)

type Kind string

const (
	TransactionCreated  Kind = "transaction.created"
	TransactionUpdated  Kind = "transaction.updated"
	TransactionDeleted  Kind = "transaction.deleted"
	TransactionsDeleted Kind = "transactions.bulk_deleted"
)

// LedgerEvent describes which transactions changed and which source
// balances moved as a result.
type LedgerEvent struct {
	Kind           Kind      `json:"kind"`
	OwnerID        string    `json:"owner_id"`
	TransactionIDs []string  `json:"transaction_ids"`
	SourceIDs      []string  `json:"source_ids"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (e LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Publisher delivers ledger events to whoever listens.
type Publisher interface {
	Publish(ctx context.Context, ev LedgerEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, LedgerEvent) error { return nil }
