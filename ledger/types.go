/*
Package ledger provides the transaction-source consistency engine.

PURPOSE:
  Users record income and expense transactions against money sources
  (bank accounts, wallets, cash). Each Source carries a cached balance.
  This package keeps that cached balance equal to the opening balance
  plus the signed sum of the transactions that reference the source.

KEY CONCEPTS IN THIS FILE (types.go):
  - Source:      A named store of money with a cached balance
  - Transaction: A single signed monetary event (amount is always positive)
  - Category:    A user-defined label with a fixed kind (income/expense)
  - IDs:         Type-safe identifiers so owner/source/category ids don't mix

INVARIANT:
  source.Balance == source.OpeningBalance + Σ signed(tx.Amount)
  where signed(income) = +amount and signed(expense) = -amount.

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for money
  2. Ownership: Every record carries OwnerID; every mutation checks it
  3. Atomicity: Every balance change happens inside TxStore.WithTx
     together with the transaction row it belongs to

SEE ALSO:
  - balance.go: ApplyDelta / ReverseEffect (the balance mutator)
  - engine.go:  Create / Update / Delete transaction
  - batch.go:   AddMultiple / BulkDelete
  - store.go:   Persistence interfaces
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OwnerID string
type SourceID string
type CategoryID string
type TransactionID string

// =============================================================================
// TRANSACTION TYPE - Direction of a transaction
// =============================================================================

type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

// ParseTransactionType normalizes user input ("Expense", " income ").
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Message: "must be income or expense"}
	}
	return t, nil
}

// Sign returns amount with the sign this type applies to a source balance.
func (t TransactionType) Sign(amount decimal.Decimal) decimal.Decimal {
	if t == TypeExpense {
		return amount.Neg()
	}
	return amount
}

// TypeFilter selects transactions by type for listing and bulk deletion.
type TypeFilter string

const (
	FilterAll     TypeFilter = "all"
	FilterIncome  TypeFilter = "income"
	FilterExpense TypeFilter = "expense"
)

func ParseTypeFilter(s string) (TypeFilter, error) {
	switch f := TypeFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterAll, FilterIncome, FilterExpense:
		return f, nil
	case "":
		return FilterAll, nil
	default:
		return "", &ValidationError{Field: "type", Message: "must be expense, income or all"}
	}
}

// Matches reports whether a transaction of type t passes the filter.
func (f TypeFilter) Matches(t TransactionType) bool {
	return f == FilterAll || f == "" || TransactionType(f) == t
}

// =============================================================================
// SOURCE - Where money lives
// =============================================================================

type SourceType string

const (
	SourceBankAccount SourceType = "bank_account"
	SourceEWallet     SourceType = "e_wallet"
	SourceCash        SourceType = "cash"
	SourceOther       SourceType = "other"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceBankAccount, SourceEWallet, SourceCash, SourceOther:
		return true
	}
	return false
}

type SourceStatus string

const (
	StatusAvailable    SourceStatus = "available"
	StatusLocked       SourceStatus = "locked"
	StatusNotAvailable SourceStatus = "not_available"
)

func (s SourceStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusLocked, StatusNotAvailable:
		return true
	}
	return false
}

// Source is a named store of money owned by exactly one user.
//
// Balance is a cached aggregate. OpeningBalance is the balance the source
// had before any transaction was applied through the engine; a direct edit
// of the balance moves OpeningBalance by the same amount.
type Source struct {
	ID             SourceID
	OwnerID        OwnerID
	Name           string
	Type           SourceType
	Balance        decimal.Decimal
	OpeningBalance decimal.Decimal
	Status         SourceStatus
	InterestRate   decimal.Decimal // percent
	Category       string          // free-text label
	TransferTime   string          // free-text label
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// CATEGORY
// =============================================================================

type Category struct {
	ID             CategoryID
	OwnerID        OwnerID
	Name           string
	Type           TransactionType
	Classification string
	CreatedAt      time.Time
}

// =============================================================================
// TRANSACTION - Single signed monetary event
// =============================================================================

type Transaction struct {
	ID          TransactionID
	OwnerID     OwnerID
	Amount      decimal.Decimal // always positive
	Type        TransactionType
	Date        time.Time
	Description string
	CategoryID  CategoryID
	SourceID    SourceID
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Populated on results for caller convenience. Never persisted.
	Category *Category
	Source   *Source
}

// Signed returns the amount this transaction contributes to its source.
func (t Transaction) Signed() decimal.Decimal {
	return t.Type.Sign(t.Amount)
}

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	Type     TypeFilter
	SourceID SourceID
	From     time.Time
	To       time.Time
	Limit    int
}

// DateLayout is the calendar-date form accepted alongside RFC 3339.
const DateLayout = "2006-01-02"

// ParseDate accepts "2006-01-02" (midnight UTC) or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, &ValidationError{Field: "date", Message: "must be YYYY-MM-DD or RFC 3339"}
}
