/*
batch.go - Multi-transaction operations

ADD MULTIPLE (best effort):
  Each input gets its own CreateTransaction unit, in input order. A failed
  item is recorded in Failed and does not roll back items that already
  succeeded. The caller always gets a BatchResult back.

  Use case: "log lunch 12, taxi 30 and coffee 4" from one chat message.
  Two out of three being recorded is more useful than none.

BULK DELETE (all or nothing):
  One unit: select the owner's transactions matching the filter, sum the
  reversal per source, write each affected source once, then delete every
  matching row in one statement. If anything fails, nothing changes.

  Writing each source once keeps the unit linear in the number of
  transactions rather than one source write per transaction.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-engine/events"
)

// =============================================================================
// ADD MULTIPLE
// =============================================================================

type BatchFailure struct {
	Index int
	Input CreateTransactionInput
	Err   error
}

type BatchResult struct {
	Successful   []Transaction
	Failed       []BatchFailure
	TotalCreated int
	TotalFailed  int
}

// AddMultipleTransactions creates each input independently.
func (e *Engine) AddMultipleTransactions(ctx context.Context, ownerID OwnerID, inputs []CreateTransactionInput) *BatchResult {
	res := &BatchResult{
		Successful: make([]Transaction, 0, len(inputs)),
		Failed:     []BatchFailure{},
	}

	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, BatchFailure{Index: i, Input: in, Err: err})
			continue
		}
		tx, err := e.CreateTransaction(ctx, ownerID, in)
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{Index: i, Input: in, Err: err})
			continue
		}
		res.Successful = append(res.Successful, *tx)
	}

	res.TotalCreated = len(res.Successful)
	res.TotalFailed = len(res.Failed)
	if res.TotalFailed > 0 {
		e.logger.InfoContext(ctx, "batch completed with failures",
			"owner_id", ownerID, "created", res.TotalCreated, "failed", res.TotalFailed)
	}
	return res
}

// =============================================================================
// BULK DELETE
// =============================================================================

type SourceBalance struct {
	SourceID SourceID
	Name     string
	Balance  decimal.Decimal
}

type BulkDeleteResult struct {
	DeletedCount int
	Type         TypeFilter
	Sources      []SourceBalance
}

// BulkDeleteTransactions deletes every transaction of the owner matching
// filter and reverses their effects, atomically.
func (e *Engine) BulkDeleteTransactions(ctx context.Context, ownerID OwnerID, filter TypeFilter) (*BulkDeleteResult, error) {
	filter, err := ParseTypeFilter(string(filter))
	if err != nil {
		return nil, err
	}

	var (
		res   = &BulkDeleteResult{Type: filter}
		txIDs []TransactionID
	)
	err = e.store.WithTx(ctx, func(s Store) error {
		txs, err := s.ListTransactions(ctx, ownerID, TransactionFilter{Type: filter})
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			return ErrNothingToDelete
		}

		// Net reversal per source, in first-seen order.
		deltas := make(map[SourceID]decimal.Decimal)
		var order []SourceID
		txIDs = make([]TransactionID, 0, len(txs))
		for _, tx := range txs {
			if _, seen := deltas[tx.SourceID]; !seen {
				order = append(order, tx.SourceID)
			}
			deltas[tx.SourceID] = deltas[tx.SourceID].Sub(tx.Signed())
			txIDs = append(txIDs, tx.ID)
		}

		now := e.now()
		res.Sources = make([]SourceBalance, 0, len(order))
		for _, id := range order {
			src, err := s.GetSource(ctx, id)
			if err != nil {
				return err
			}
			if src == nil || src.OwnerID != ownerID {
				return &NotFoundError{Kind: "source", ID: string(id)}
			}
			src.Balance = src.Balance.Add(deltas[id])
			src.UpdatedAt = now
			if err := s.SaveSource(ctx, *src); err != nil {
				return err
			}
			res.Sources = append(res.Sources, SourceBalance{SourceID: src.ID, Name: src.Name, Balance: src.Balance})
		}

		if err := s.DeleteTransactions(ctx, txIDs); err != nil {
			return err
		}
		res.DeletedCount = len(txIDs)
		return nil
	})
	if err != nil {
		e.logger.DebugContext(ctx, "bulk delete rejected",
			"owner_id", ownerID, "type", filter, "error", err)
		return nil, err
	}

	srcIDs := make([]SourceID, len(res.Sources))
	for i, sb := range res.Sources {
		srcIDs[i] = sb.SourceID
	}
	e.logger.InfoContext(ctx, "transactions bulk deleted",
		"owner_id", ownerID, "type", filter, "count", res.DeletedCount, "sources", len(srcIDs))
	e.publish(ctx, events.TransactionsDeleted, ownerID, txIDs, srcIDs)
	return res, nil
}
