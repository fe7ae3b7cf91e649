/*
sources.go - Source and category management

PURPOSE:
  Plain CRUD for sources and categories. None of these operations apply
  a transaction to a balance, but two of them interact with the balance
  invariant:

  UpdateSource with a new Balance:
    The edit is treated as a re-basing: OpeningBalance moves by the same
    delta, so Balance == OpeningBalance + Σ signed(tx) keeps holding and
    the reconciler does not report the edit as drift.

  DeleteSource / DeleteCategory:
    Blocked with ErrInUse while any transaction references the record.
    Deleting the transactions first (or bulk deleting) frees it.
*/
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SOURCES
// =============================================================================

type CreateSourceInput struct {
	Name         string
	Type         SourceType
	Balance      decimal.Decimal
	Status       SourceStatus
	InterestRate decimal.Decimal
	Category     string
	TransferTime string
}

type UpdateSourceInput struct {
	Name         *string
	Type         *SourceType
	Balance      *decimal.Decimal
	Status       *SourceStatus
	InterestRate *decimal.Decimal
	Category     *string
	TransferTime *string
}

func (e *Engine) CreateSource(ctx context.Context, ownerID OwnerID, in CreateSourceInput) (*Source, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if in.Type == "" {
		in.Type = SourceOther
	}
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: "must be bank_account, e_wallet, cash or other"}
	}
	if in.Status == "" {
		in.Status = StatusAvailable
	}
	if !in.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "must be available, locked or not_available"}
	}
	if in.Balance.IsNegative() {
		return nil, &ValidationError{Field: "balance", Message: "must not be negative"}
	}
	if in.InterestRate.IsNegative() {
		return nil, &ValidationError{Field: "interest_rate", Message: "must not be negative"}
	}

	now := e.now()
	src := Source{
		ID:             SourceID(e.newID()),
		OwnerID:        ownerID,
		Name:           name,
		Type:           in.Type,
		Balance:        in.Balance,
		OpeningBalance: in.Balance,
		Status:         in.Status,
		InterestRate:   in.InterestRate,
		Category:       strings.TrimSpace(in.Category),
		TransferTime:   strings.TrimSpace(in.TransferTime),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.SaveSource(ctx, src); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "source created",
		"owner_id", ownerID, "source_id", src.ID, "balance", src.Balance.String())
	return &src, nil
}

func (e *Engine) GetSource(ctx context.Context, ownerID OwnerID, id SourceID) (*Source, error) {
	src, err := e.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, &NotFoundError{Kind: "source", ID: string(id)}
	}
	if src.OwnerID != ownerID {
		return nil, ErrPermissionDenied
	}
	return src, nil
}

func (e *Engine) ListSources(ctx context.Context, ownerID OwnerID) ([]Source, error) {
	return e.store.ListSources(ctx, ownerID)
}

// UpdateSource edits a source. A balance edit re-bases OpeningBalance.
func (e *Engine) UpdateSource(ctx context.Context, ownerID OwnerID, id SourceID, in UpdateSourceInput) (*Source, error) {
	var out Source
	err := e.store.WithTx(ctx, func(s Store) error {
		src, err := s.GetSource(ctx, id)
		if err != nil {
			return err
		}
		if src == nil {
			return &NotFoundError{Kind: "source", ID: string(id)}
		}
		if src.OwnerID != ownerID {
			return ErrPermissionDenied
		}

		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return &ValidationError{Field: "name", Message: "must not be empty"}
			}
			src.Name = name
		}
		if in.Type != nil {
			if !in.Type.Valid() {
				return &ValidationError{Field: "type", Message: "must be bank_account, e_wallet, cash or other"}
			}
			src.Type = *in.Type
		}
		if in.Status != nil {
			if !in.Status.Valid() {
				return &ValidationError{Field: "status", Message: "must be available, locked or not_available"}
			}
			src.Status = *in.Status
		}
		if in.InterestRate != nil {
			if in.InterestRate.IsNegative() {
				return &ValidationError{Field: "interest_rate", Message: "must not be negative"}
			}
			src.InterestRate = *in.InterestRate
		}
		if in.Category != nil {
			src.Category = strings.TrimSpace(*in.Category)
		}
		if in.TransferTime != nil {
			src.TransferTime = strings.TrimSpace(*in.TransferTime)
		}
		if in.Balance != nil && !in.Balance.Equal(src.Balance) {
			delta := in.Balance.Sub(src.Balance)
			src.OpeningBalance = src.OpeningBalance.Add(delta)
			src.Balance = *in.Balance
			e.logger.InfoContext(ctx, "source balance edited directly",
				"owner_id", ownerID, "source_id", id, "delta", delta.String())
		}
		src.UpdatedAt = e.now()

		if err := s.SaveSource(ctx, *src); err != nil {
			return err
		}
		out = *src
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSource removes a source that no transaction references.
func (e *Engine) DeleteSource(ctx context.Context, ownerID OwnerID, id SourceID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		src, err := s.GetSource(ctx, id)
		if err != nil {
			return err
		}
		if src == nil {
			return &NotFoundError{Kind: "source", ID: string(id)}
		}
		if src.OwnerID != ownerID {
			return ErrPermissionDenied
		}
		n, err := s.CountBySource(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("source %q has %d transactions: %w", src.Name, n, ErrInUse)
		}
		return s.DeleteSource(ctx, id)
	})
}

// =============================================================================
// CATEGORIES
// =============================================================================

type CreateCategoryInput struct {
	Name           string
	Type           TransactionType
	Classification string // empty means Classify(name, type)
}

// CreateCategory adds a category. Names are unique per owner and type,
// compared case-insensitively.
func (e *Engine) CreateCategory(ctx context.Context, ownerID OwnerID, in CreateCategoryInput) (*Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: "must be income or expense"}
	}

	var out *Category
	err := e.store.WithTx(ctx, func(s Store) error {
		existing, err := s.ListCategories(ctx, ownerID)
		if err != nil {
			return err
		}
		if findCategoryByName(existing, name, in.Type) != nil {
			return &ValidationError{Field: "name", Message: fmt.Sprintf("%s category %q already exists", in.Type, name)}
		}
		out, err = e.newCategory(ctx, s, ownerID, name, in.Type, in.Classification)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) ListCategories(ctx context.Context, ownerID OwnerID) ([]Category, error) {
	return e.store.ListCategories(ctx, ownerID)
}

// DeleteCategory removes a category that no transaction references.
func (e *Engine) DeleteCategory(ctx context.Context, ownerID OwnerID, id CategoryID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		cat, err := s.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if cat == nil {
			return &NotFoundError{Kind: "category", ID: string(id)}
		}
		if cat.OwnerID != ownerID {
			return ErrPermissionDenied
		}
		n, err := s.CountByCategory(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("category %q has %d transactions: %w", cat.Name, n, ErrInUse)
		}
		return s.DeleteCategory(ctx, id)
	})
}

func (e *Engine) newCategory(ctx context.Context, s Store, ownerID OwnerID, name string, t TransactionType, classification string) (*Category, error) {
	if classification == "" {
		classification = Classify(name, t)
	}
	cat := Category{
		ID:             CategoryID(e.newID()),
		OwnerID:        ownerID,
		Name:           name,
		Type:           t,
		Classification: classification,
		CreatedAt:      e.now(),
	}
	if err := s.SaveCategory(ctx, cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

func findCategoryByName(cats []Category, name string, t TransactionType) *Category {
	for i := range cats {
		if cats[i].Type == t && strings.EqualFold(cats[i].Name, name) {
			return &cats[i]
		}
	}
	return nil
}
