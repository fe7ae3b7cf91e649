/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:

	Tests that each scenario loads through the engine on every backend and
	ends with the expected source balances and no drift. Running them
	against SQLite doubles as an integration test of the SQL store.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-engine/agent"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/ledger/store"
	"github.com/warp/finance-engine/logging"
	"github.com/warp/finance-engine/store/sqlite"
)

type scenarioStore interface {
	ledger.TxStore
	Resetter
}

func scenarioBackends(t *testing.T) map[string]scenarioStore {
	t.Helper()
	sq, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]scenarioStore{
		"memory": store.NewMemory(),
		"sqlite": sq,
	}
}

func newScenarioHandler(st scenarioStore) *Handler {
	logger := logging.Discard()
	engine := ledger.NewEngine(st, ledger.WithLogger(logger))
	return NewHandler(engine, agent.NewRegistry(engine, logger), ledger.NewReconciler(st, logger, 2), st, logger)
}

func balancesByName(t *testing.T, h *Handler, owner ledger.OwnerID) map[string]string {
	t.Helper()
	sources, err := h.Engine.ListSources(context.Background(), owner)
	require.NoError(t, err)
	out := make(map[string]string, len(sources))
	for _, s := range sources {
		out[s.Name] = s.Balance.StringFixed(2)
	}
	return out
}

func TestScenarios_Balances(t *testing.T) {
	month := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	expected := map[string]map[string]string{
		"first-paycheck": {"Cash": "300.00"},
		"household":      {"Checking": "3994.64", "E-Wallet": "40.01", "Cash": "43.75"},
		"freelancer":     {"PayPal": "1437.10", "Business Account": "872.30"},
	}

	for backend, st := range scenarioBackends(t) {
		for _, sc := range scenarios {
			t.Run(backend+"/"+sc.ID, func(t *testing.T) {
				// GIVEN: a handler on a fresh backend
				h := newScenarioHandler(st)
				ctx := context.Background()

				// WHEN: the scenario is loaded
				require.NoError(t, h.loadScenario(ctx, testOwner, sc, month))

				// THEN: balances match and the ledger is consistent
				assert.Equal(t, expected[sc.ID], balancesByName(t, h, testOwner))

				drifts, n, err := h.Reconciler.AuditOwner(ctx, testOwner)
				require.NoError(t, err)
				assert.Empty(t, drifts)
				assert.Equal(t, len(sc.sources), n)

				txs, err := h.Engine.ListTransactions(ctx, testOwner, ledger.TransactionFilter{})
				require.NoError(t, err)
				assert.Len(t, txs, len(sc.transactions))
				for _, tx := range txs {
					assert.Equal(t, time.March, tx.Date.Month())
				}
			})
		}
	}
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	// GIVEN: household loaded for one owner
	h := newScenarioHandler(store.NewMemory())
	ctx := context.Background()
	household, _ := findScenario("household")
	require.NoError(t, h.loadScenario(ctx, "someone-else", household, scenarioMonth(time.Now())))

	// WHEN: first-paycheck is loaded for another owner
	first, _ := findScenario("first-paycheck")
	require.NoError(t, h.loadScenario(ctx, testOwner, first, scenarioMonth(time.Now())))

	// THEN: only the new data remains
	assert.Empty(t, balancesByName(t, h, "someone-else"))
	assert.Equal(t, map[string]string{"Cash": "300.00"}, balancesByName(t, h, testOwner))
	assert.Equal(t, "first-paycheck", h.currentScenario)
}

func TestScenarioMonth(t *testing.T) {
	now := time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC), scenarioMonth(now))
}

func TestScenarioEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios/current", testOwner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())

	rec = s.do(http.MethodPost, "/api/scenarios/load", testOwner, LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/load", testOwner, LoadScenarioRequest{ScenarioID: "first-paycheck"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/scenarios/current", testOwner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first-paycheck", decode[ScenarioDTO](t, rec).ID)

	rec = s.do(http.MethodGet, "/api/scenarios", testOwner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))
}
