package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-engine/ledger"
)

func saveSource(t *testing.T, m *Memory, id ledger.SourceID, balance int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, m.SaveSource(context.Background(), ledger.Source{
		ID: id, OwnerID: "user-1", Name: string(id), Balance: decimal.NewFromInt(balance),
		CreatedAt: now, UpdatedAt: now,
	}))
}

func TestWithTx_PanicRestoresSnapshot(t *testing.T) {
	// GIVEN: one committed source
	m := NewMemory()
	ctx := context.Background()
	saveSource(t, m, "a", 100)

	// WHEN: a unit writes and then panics
	assert.Panics(t, func() {
		_ = m.WithTx(ctx, func(s ledger.Store) error {
			a, _ := s.GetSource(ctx, "a")
			a.Balance = decimal.Zero
			require.NoError(t, s.SaveSource(ctx, *a))
			require.NoError(t, s.SaveSource(ctx, ledger.Source{ID: "b", OwnerID: "user-1"}))
			panic("boom")
		})
	})

	// THEN: none of its writes survive and the store is usable
	a, err := m.GetSource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "100", a.Balance.String())
	b, err := m.GetSource(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, m.WithTx(ctx, func(s ledger.Store) error { return nil }))
}

func TestReadSnapshot_HoldsOffUnitsAndRejectsWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	saveSource(t, m, "a", 100)

	committed := make(chan struct{})
	err := m.ReadSnapshot(ctx, func(s ledger.Store) error {
		go func() {
			_ = m.WithTx(ctx, func(s ledger.Store) error {
				return s.SaveSource(ctx, ledger.Source{ID: "a", OwnerID: "user-1", Balance: decimal.NewFromInt(1)})
			})
			close(committed)
		}()

		select {
		case <-committed:
			t.Error("unit committed while a snapshot was open")
		case <-time.After(50 * time.Millisecond):
		}

		a, err := s.GetSource(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "100", a.Balance.String())

		err = s.SaveSource(ctx, *a)
		assert.ErrorIs(t, err, ledger.ErrStorage)
		return nil
	})
	require.NoError(t, err)

	<-committed
	a, err := m.GetSource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", a.Balance.String())
}
