/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Pre-built datasets that populate the ledger with realistic sources,
	categories and transactions. Everything is created through
	ledger.Engine, so a loaded scenario satisfies the balance invariant
	exactly like user-entered data.

AVAILABLE SCENARIOS:

	first-paycheck: One cash source, a salary and a grocery run
	household:      Bank, e-wallet and cash with a month of spending
	freelancer:     Irregular income, interest and a bulk of small expenses

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create sources with their opening balances
 3. Create transactions in date order, creating categories on first use

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "household"}

	Data is loaded for the caller's X-User-ID.

NOTE:

	Scenarios reset the whole store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error mapping
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type sourceSeed struct {
	name    string
	typ     ledger.SourceType
	balance string
	rate    string
}

type txSeed struct {
	day         int // day of the scenario month
	typ         ledger.TransactionType
	amount      string
	category    string
	source      string // sourceSeed.name
	description string
}

type scenario struct {
	ScenarioDTO
	sources      []sourceSeed
	transactions []txSeed
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "first-paycheck",
			Name:        "First Paycheck",
			Description: "Cash only: salary in, groceries out",
		},
		sources: []sourceSeed{
			{name: "Cash", typ: ledger.SourceCash, balance: "0"},
		},
		transactions: []txSeed{
			{1, ledger.TypeIncome, "1000", "Salary", "Cash", "March salary"},
			{3, ledger.TypeExpense, "700", "Groceries", "Cash", "Monthly groceries"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "household",
			Name:        "Household",
			Description: "Bank account, e-wallet and cash with a month of bills and spending",
		},
		sources: []sourceSeed{
			{name: "Checking", typ: ledger.SourceBankAccount, balance: "2500", rate: "0.5"},
			{name: "E-Wallet", typ: ledger.SourceEWallet, balance: "150"},
			{name: "Cash", typ: ledger.SourceCash, balance: "80"},
		},
		transactions: []txSeed{
			{1, ledger.TypeIncome, "3200", "Salary", "Checking", "Payroll"},
			{2, ledger.TypeExpense, "1200", "Rent", "Checking", "Apartment rent"},
			{4, ledger.TypeExpense, "86.40", "Groceries", "Checking", "Supermarket"},
			{5, ledger.TypeExpense, "12.50", "Coffee", "Cash", "Coffee with friends"},
			{7, ledger.TypeExpense, "64.99", "Electricity bill", "E-Wallet", "Utility payment"},
			{10, ledger.TypeExpense, "45", "Transport", "E-Wallet", "Metro card top-up"},
			{12, ledger.TypeExpense, "120", "Dining out", "Checking", "Anniversary dinner"},
			{15, ledger.TypeExpense, "300", "Emergency savings", "Checking", "Monthly transfer"},
			{18, ledger.TypeExpense, "23.75", "Groceries", "Cash", "Farmers market"},
			{28, ledger.TypeIncome, "1.04", "Interest", "Checking", "Savings interest"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "freelancer",
			Name:        "Freelancer",
			Description: "Irregular client payments, dividends and many small expenses",
		},
		sources: []sourceSeed{
			{name: "Business Account", typ: ledger.SourceBankAccount, balance: "800", rate: "1.25"},
			{name: "PayPal", typ: ledger.SourceEWallet, balance: "0"},
		},
		transactions: []txSeed{
			{2, ledger.TypeIncome, "1500", "Freelance projects", "PayPal", "Website redesign"},
			{3, ledger.TypeExpense, "29", "Software subscription", "PayPal", "Design tool"},
			{6, ledger.TypeExpense, "15", "Coffee", "PayPal", "Client meeting"},
			{9, ledger.TypeIncome, "650", "Freelance projects", "Business Account", "Logo package"},
			{11, ledger.TypeExpense, "220", "Health insurance", "Business Account", "Monthly premium"},
			{14, ledger.TypeIncome, "42.30", "Dividends", "Business Account", "ETF dividend"},
			{20, ledger.TypeExpense, "18.90", "Transport", "PayPal", "Ride to client"},
			{25, ledger.TypeExpense, "400", "Tax reserve", "Business Account", "Quarterly estimate"},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario for the
// caller.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	if err := h.loadScenario(r.Context(), ownerFrom(r), s, scenarioMonth(time.Now())); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": s.ID,
	})
}

// scenarioMonth is the first day of the month before now, so every seeded
// date is in the past.
func scenarioMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
}

func (h *Handler) loadScenario(ctx context.Context, ownerID ledger.OwnerID, s scenario, month time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""

	sources := make(map[string]ledger.SourceID, len(s.sources))
	for _, seed := range s.sources {
		in := ledger.CreateSourceInput{
			Name:    seed.name,
			Type:    seed.typ,
			Balance: decimal.RequireFromString(seed.balance),
		}
		if seed.rate != "" {
			in.InterestRate = decimal.RequireFromString(seed.rate)
		}
		src, err := h.Engine.CreateSource(ctx, ownerID, in)
		if err != nil {
			return fmt.Errorf("create source %s: %w", seed.name, err)
		}
		sources[seed.name] = src.ID
	}

	categories := make(map[string]ledger.CategoryID)
	for _, seed := range s.transactions {
		key := string(seed.typ) + "/" + strings.ToLower(seed.category)
		catID, ok := categories[key]
		if !ok {
			cat, err := h.Engine.CreateCategory(ctx, ownerID, ledger.CreateCategoryInput{Name: seed.category, Type: seed.typ})
			if err != nil {
				return fmt.Errorf("create category %s: %w", seed.category, err)
			}
			catID = cat.ID
			categories[key] = catID
		}

		_, err := h.Engine.CreateTransaction(ctx, ownerID, ledger.CreateTransactionInput{
			Amount:      decimal.RequireFromString(seed.amount),
			Type:        seed.typ,
			Date:        month.AddDate(0, 0, seed.day-1),
			Description: seed.description,
			CategoryID:  catID,
			SourceID:    sources[seed.source],
		})
		if err != nil {
			return fmt.Errorf("create transaction %q: %w", seed.description, err)
		}
	}

	h.currentScenario = s.ID
	h.logger.InfoContext(ctx, "scenario loaded",
		"scenario", s.ID, "owner_id", ownerID,
		"sources", len(s.sources), "transactions", len(s.transactions))
	return nil
}
