/*
resolver.go - Loose reference resolution for the AI entry path

PURPOSE:
  The chat agent speaks in names ("groceries", "my default wallet"), not
  ids. The Resolver turns those into concrete records, creating a
  category when none matches. The HTTP CRUD path never goes through here:
  it requires exact, existing references.

RULES:
  ResolveCategory(owner, nameOrID, type):
    1. An id owned by the owner wins.
    2. Otherwise a case-insensitive exact name match of the same type.
    3. Otherwise a new category of that type, classified by keyword.
  ResolveSource(owner, idOrDefault):
    "" or "default" -> the owner's oldest source, creating a zero-balance
    "Cash" source if the owner has none. Anything else is an id lookup;
    missing or foreign ids fail with InvalidReference.

  Lookup and creation share one WithTx unit so two concurrent resolves of
  the same new name create one category, not two.
*/
package ledger

import (
	"context"
	"strings"
)

const DefaultSourceRef = "default"

type Resolver struct {
	engine *Engine
}

func NewResolver(e *Engine) *Resolver {
	return &Resolver{engine: e}
}

// ResolveCategory never returns a category owned by someone else.
func (r *Resolver) ResolveCategory(ctx context.Context, ownerID OwnerID, nameOrID string, t TransactionType) (*Category, error) {
	ref := strings.TrimSpace(nameOrID)
	if ref == "" {
		return nil, &ValidationError{Field: "category", Message: "must not be empty"}
	}
	if !t.Valid() {
		return nil, &ValidationError{Field: "type", Message: "must be income or expense"}
	}

	var out *Category
	err := r.engine.store.WithTx(ctx, func(s Store) error {
		byID, err := s.GetCategory(ctx, CategoryID(ref))
		if err != nil {
			return err
		}
		if byID != nil && byID.OwnerID == ownerID {
			out = byID
			return nil
		}

		cats, err := s.ListCategories(ctx, ownerID)
		if err != nil {
			return err
		}
		if found := findCategoryByName(cats, ref, t); found != nil {
			out = found
			return nil
		}

		out, err = r.engine.newCategory(ctx, s, ownerID, ref, t, "")
		if err == nil {
			r.engine.logger.InfoContext(ctx, "category auto-created",
				"owner_id", ownerID, "category_id", out.ID, "name", out.Name, "classification", out.Classification)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) ResolveSource(ctx context.Context, ownerID OwnerID, idOrDefault string) (*Source, error) {
	ref := strings.TrimSpace(idOrDefault)
	if ref != "" && !strings.EqualFold(ref, DefaultSourceRef) {
		return loadSourceRef(ctx, r.engine.store, ownerID, SourceID(ref))
	}

	var out *Source
	err := r.engine.store.WithTx(ctx, func(s Store) error {
		sources, err := s.ListSources(ctx, ownerID)
		if err != nil {
			return err
		}
		if len(sources) > 0 {
			out = &sources[0]
			return nil
		}

		now := r.engine.now()
		src := Source{
			ID:        SourceID(r.engine.newID()),
			OwnerID:   ownerID,
			Name:      "Cash",
			Type:      SourceCash,
			Status:    StatusAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.SaveSource(ctx, src); err != nil {
			return err
		}
		r.engine.logger.InfoContext(ctx, "default source created", "owner_id", ownerID, "source_id", src.ID)
		out = &src
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// CLASSIFICATION - Best-effort tag for auto-created categories
// =============================================================================

const (
	ClassNeeds         = "needs"
	ClassWants         = "wants"
	ClassSavings       = "savings"
	ClassActiveIncome  = "active_income"
	ClassPassiveIncome = "passive_income"
	ClassOther         = "other"
)

type classRule struct {
	class    string
	keywords []string
}

var expenseRules = []classRule{
	{ClassSavings, []string{"saving", "invest", "emergency", "deposit", "pension"}},
	{ClassNeeds, []string{"rent", "grocer", "food", "util", "electric", "water", "gas", "transport",
		"fuel", "health", "medic", "insurance", "bill", "tax", "school", "education", "loan"}},
	{ClassWants, []string{"entertain", "dining", "restaurant", "shop", "travel", "hobby", "game",
		"coffee", "movie", "subscription", "gift", "fashion"}},
}

var incomeRules = []classRule{
	{ClassPassiveIncome, []string{"interest", "dividend", "rental", "royalt", "invest", "passive"}},
	{ClassActiveIncome, []string{"salary", "wage", "payroll", "bonus", "freelance", "commission", "business"}},
}

// Classify tags a category name by keyword. Unknown names get ClassOther.
func Classify(name string, t TransactionType) string {
	rules := expenseRules
	if t == TypeIncome {
		rules = incomeRules
	}
	lower := strings.ToLower(name)
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.class
			}
		}
	}
	return ClassOther
}
