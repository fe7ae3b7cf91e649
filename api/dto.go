/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API, kept apart from the ledger types so the
  wire contract can evolve on its own.

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Request:  Request body types from clients
  - *Response: Operation result wrappers

MONEY:
  Amounts are decimals. Requests accept a JSON number or a string
  ("12.50"); responses always carry strings with two decimals so no
  client ever parses money into a float.

DATES:
  Requests accept "2006-01-02" or RFC 3339. Responses use RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// SOURCES
// =============================================================================

type SourceDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Balance        string `json:"balance"`
	OpeningBalance string `json:"opening_balance"`
	Status         string `json:"status"`
	InterestRate   string `json:"interest_rate"`
	Category       string `json:"category,omitempty"`
	TransferTime   string `json:"transfer_time,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type CreateSourceRequest struct {
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Balance      decimal.Decimal `json:"balance"`
	Status       string          `json:"status"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	Category     string          `json:"category"`
	TransferTime string          `json:"transfer_time"`
}

type UpdateSourceRequest struct {
	Name         *string          `json:"name"`
	Type         *string          `json:"type"`
	Balance      *decimal.Decimal `json:"balance"`
	Status       *string          `json:"status"`
	InterestRate *decimal.Decimal `json:"interest_rate"`
	Category     *string          `json:"category"`
	TransferTime *string          `json:"transfer_time"`
}

func toSourceDTO(s ledger.Source) SourceDTO {
	return SourceDTO{
		ID:             string(s.ID),
		Name:           s.Name,
		Type:           string(s.Type),
		Balance:        s.Balance.StringFixed(2),
		OpeningBalance: s.OpeningBalance.StringFixed(2),
		Status:         string(s.Status),
		InterestRate:   s.InterestRate.String(),
		Category:       s.Category,
		TransferTime:   s.TransferTime,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      s.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// CATEGORIES
// =============================================================================

type CategoryDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Classification string `json:"classification"`
	CreatedAt      string `json:"created_at"`
}

type CreateCategoryRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Classification string `json:"classification"`
}

func toCategoryDTO(c ledger.Category) CategoryDTO {
	return CategoryDTO{
		ID:             string(c.ID),
		Name:           c.Name,
		Type:           string(c.Type),
		Classification: c.Classification,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID          string       `json:"id"`
	Amount      string       `json:"amount"`
	Type        string       `json:"type"`
	Date        string       `json:"date"`
	Description string       `json:"description"`
	CategoryID  string       `json:"category_id"`
	SourceID    string       `json:"source_id"`
	Category    *CategoryDTO `json:"category,omitempty"`
	Source      *SourceDTO   `json:"source,omitempty"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
}

type CreateTransactionRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	CategoryID  string          `json:"category_id"`
	SourceID    string          `json:"source_id"`
}

// UpdateTransactionRequest: absent fields stay unchanged.
type UpdateTransactionRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Type        *string          `json:"type"`
	Date        *string          `json:"date"`
	Description *string          `json:"description"`
	CategoryID  *string          `json:"category_id"`
	SourceID    *string          `json:"source_id"`
}

type BatchRequest struct {
	Transactions []CreateTransactionRequest `json:"transactions"`
}

// BatchFailureDTO echoes the submitted item as spec.
type BatchFailureDTO struct {
	Index int                      `json:"index"`
	Spec  CreateTransactionRequest `json:"spec"`
	Error string                   `json:"error"`
	Code  string                   `json:"code"`
}

func toBatchFailureDTO(index int, item CreateTransactionRequest, err error) BatchFailureDTO {
	_, code := errorStatus(err)
	return BatchFailureDTO{Index: index, Spec: item, Error: err.Error(), Code: code}
}

type BatchResponse struct {
	Successful   []TransactionDTO  `json:"successful"`
	Failed       []BatchFailureDTO `json:"failed"`
	TotalCreated int               `json:"total_created"`
	TotalFailed  int               `json:"total_failed"`
}

type DeleteTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Type          string `json:"type"`
	SourceID      string `json:"source_id"`
	SourceBalance string `json:"source_balance"`
}

type SourceBalanceDTO struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Balance  string `json:"balance"`
}

type BulkDeleteResponse struct {
	DeletedCount int                `json:"deleted_count"`
	Type         string             `json:"type"`
	Sources      []SourceBalanceDTO `json:"sources"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:          string(tx.ID),
		Amount:      tx.Amount.StringFixed(2),
		Type:        string(tx.Type),
		Date:        tx.Date.Format(time.RFC3339),
		Description: tx.Description,
		CategoryID:  string(tx.CategoryID),
		SourceID:    string(tx.SourceID),
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   tx.UpdatedAt.Format(time.RFC3339),
	}
	if tx.Category != nil {
		c := toCategoryDTO(*tx.Category)
		dto.Category = &c
	}
	if tx.Source != nil {
		s := toSourceDTO(*tx.Source)
		dto.Source = &s
	}
	return dto
}

// toInput converts a request into an engine input. Only the date needs
// parsing here; everything else is validated by the engine.
func (req CreateTransactionRequest) toInput() (ledger.CreateTransactionInput, error) {
	in := ledger.CreateTransactionInput{
		Amount:      req.Amount,
		Type:        ledger.TransactionType(req.Type),
		Description: req.Description,
		CategoryID:  ledger.CategoryID(req.CategoryID),
		SourceID:    ledger.SourceID(req.SourceID),
	}
	if req.Date != "" {
		d, err := ledger.ParseDate(req.Date)
		if err != nil {
			return in, err
		}
		in.Date = d
	}
	return in, nil
}

func (req UpdateTransactionRequest) toInput() (ledger.UpdateTransactionInput, error) {
	in := ledger.UpdateTransactionInput{
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.Type != nil {
		t := ledger.TransactionType(*req.Type)
		in.Type = &t
	}
	if req.Date != nil {
		d, err := ledger.ParseDate(*req.Date)
		if err != nil {
			return in, err
		}
		in.Date = &d
	}
	if req.CategoryID != nil {
		id := ledger.CategoryID(*req.CategoryID)
		in.CategoryID = &id
	}
	if req.SourceID != nil {
		id := ledger.SourceID(*req.SourceID)
		in.SourceID = &id
	}
	return in, nil
}

// =============================================================================
// AUDIT
// =============================================================================

type DriftDTO struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Cached   string `json:"cached"`
	Expected string `json:"expected"`
	Drift    string `json:"drift"`
}

type AuditResponse struct {
	CheckedAt string     `json:"checked_at"`
	Sources   int        `json:"sources"`
	Drifts    []DriftDTO `json:"drifts"`
}

// =============================================================================
// AGENT
// =============================================================================

type ToolListResponse struct {
	Tools []string `json:"tools"`
}

type ToolResultResponse struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`

	// Set for insufficient_funds.
	SourceName string `json:"source_name,omitempty"`
	Balance    string `json:"balance,omitempty"`
}
