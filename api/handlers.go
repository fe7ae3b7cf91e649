/*
handlers.go - HTTP API handlers for the finance ledger

PURPOSE:
  Exposes the ledger engine via REST. Handles request parsing, JSON
  serialization and error mapping, and delegates everything else to
  ledger.Engine.

ENDPOINTS:
  Sources:
    GET    /api/sources                List sources (oldest first)
    POST   /api/sources                Create source
    GET    /api/sources/{id}           Get source
    PUT    /api/sources/{id}           Update source (partial)
    DELETE /api/sources/{id}           Delete unused source

  Categories:
    GET    /api/categories             List categories
    POST   /api/categories             Create category
    DELETE /api/categories/{id}        Delete unused category

  Transactions:
    GET    /api/transactions           List (type, source_id, from, to, limit)
    POST   /api/transactions           Create
    POST   /api/transactions/batch     Add multiple (best effort)
    DELETE /api/transactions?type=...  Bulk delete (all or nothing)
    GET    /api/transactions/{id}      Get with category and source
    PUT    /api/transactions/{id}      Update (partial)
    DELETE /api/transactions/{id}      Delete

  Agent:
    GET    /api/agent/tools            Tool names
    POST   /api/agent/tools/{name}     Invoke tool with JSON arguments

  Audit:
    GET    /api/audit                  Drift report for the caller's sources

OWNER:
  Every /api route requires X-User-ID, set by the auth proxy in front of
  this service. Requests without it get 401.

ERROR HANDLING:
  Errors are returned as ErrorResponse with:
  - 400: Validation, invalid reference, insufficient funds, nothing to delete
  - 401: Missing owner
  - 403: Record belongs to another owner
  - 404: Record or tool not found
  - 409: Source/category still referenced
  - 500: Storage and anything unexpected

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/finance-engine/agent"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears every record. Implemented by all stores.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *ledger.Engine
	Agent      *agent.Registry
	Reconciler *ledger.Reconciler
	Store      Resetter

	logger *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *ledger.Engine, registry *agent.Registry, reconciler *ledger.Reconciler, store Resetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:     engine,
		Agent:      registry,
		Reconciler: reconciler,
		Store:      store,
		logger:     logger,
	}
}

// =============================================================================
// OWNER
// =============================================================================

const OwnerHeader = "X-User-ID"

type ownerKey struct{}

// RequireOwner rejects requests without an owner id.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing "+OwnerHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, ledger.OwnerID(owner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(r *http.Request) ledger.OwnerID {
	owner, _ := r.Context().Value(ownerKey{}).(ledger.OwnerID)
	return owner
}

// =============================================================================
// SOURCE HANDLERS
// =============================================================================

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Engine.ListSources(r.Context(), ownerFrom(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]SourceDTO, len(sources))
	for i, s := range sources {
		dtos[i] = toSourceDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	src, err := h.Engine.CreateSource(r.Context(), ownerFrom(r), ledger.CreateSourceInput{
		Name:         req.Name,
		Type:         ledger.SourceType(req.Type),
		Balance:      req.Balance,
		Status:       ledger.SourceStatus(req.Status),
		InterestRate: req.InterestRate,
		Category:     req.Category,
		TransferTime: req.TransferTime,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourceDTO(*src))
}

func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.Engine.GetSource(r.Context(), ownerFrom(r), ledger.SourceID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSourceDTO(*src))
}

func (h *Handler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	var req UpdateSourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in := ledger.UpdateSourceInput{
		Name:         req.Name,
		Balance:      req.Balance,
		InterestRate: req.InterestRate,
		Category:     req.Category,
		TransferTime: req.TransferTime,
	}
	if req.Type != nil {
		t := ledger.SourceType(*req.Type)
		in.Type = &t
	}
	if req.Status != nil {
		s := ledger.SourceStatus(*req.Status)
		in.Status = &s
	}

	src, err := h.Engine.UpdateSource(r.Context(), ownerFrom(r), ledger.SourceID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSourceDTO(*src))
}

func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteSource(r.Context(), ownerFrom(r), ledger.SourceID(chi.URLParam(r, "id"))); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Engine.ListCategories(r.Context(), ownerFrom(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cat, err := h.Engine.CreateCategory(r.Context(), ownerFrom(r), ledger.CreateCategoryInput{
		Name:           req.Name,
		Type:           ledger.TransactionType(req.Type),
		Classification: req.Classification,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(*cat))
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteCategory(r.Context(), ownerFrom(r), ledger.CategoryID(chi.URLParam(r, "id"))); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns the caller's transactions, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	txs, err := h.Engine.ListTransactions(r.Context(), ownerFrom(r), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func parseTransactionFilter(r *http.Request) (ledger.TransactionFilter, error) {
	q := r.URL.Query()
	var filter ledger.TransactionFilter

	t, err := ledger.ParseTypeFilter(q.Get("type"))
	if err != nil {
		return filter, err
	}
	filter.Type = t
	filter.SourceID = ledger.SourceID(q.Get("source_id"))

	if v := q.Get("from"); v != "" {
		if filter.From, err = ledger.ParseDate(v); err != nil {
			return filter, &ledger.ValidationError{Field: "from", Message: "must be YYYY-MM-DD or RFC 3339"}
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = ledger.ParseDate(v); err != nil {
			return filter, &ledger.ValidationError{Field: "to", Message: "must be YYYY-MM-DD or RFC 3339"}
		}
		if len(v) == len(ledger.DateLayout) {
			// A calendar date includes the whole day.
			filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, &ledger.ValidationError{Field: "limit", Message: "must be a number"}
		}
		filter.Limit = n
	}
	return filter, nil
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	tx, err := h.Engine.CreateTransaction(r.Context(), ownerFrom(r), in)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// AddMultipleTransactions always answers 200 with per-item results once the
// body parses; individual failures are in the response.
func (h *Handler) AddMultipleTransactions(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Transactions) == 0 {
		h.writeLedgerError(w, r, &ledger.ValidationError{Field: "transactions", Message: "must not be empty"})
		return
	}

	// Items that do not convert are reported at their own index; the rest
	// go to the engine and its failures are mapped back.
	resp := BatchResponse{Successful: []TransactionDTO{}, Failed: []BatchFailureDTO{}}
	inputs := make([]ledger.CreateTransactionInput, 0, len(req.Transactions))
	origIndex := make([]int, 0, len(req.Transactions))
	for i, item := range req.Transactions {
		in, err := item.toInput()
		if err != nil {
			resp.Failed = append(resp.Failed, toBatchFailureDTO(i, item, err))
			continue
		}
		inputs = append(inputs, in)
		origIndex = append(origIndex, i)
	}

	res := h.Engine.AddMultipleTransactions(r.Context(), ownerFrom(r), inputs)
	for _, tx := range res.Successful {
		resp.Successful = append(resp.Successful, toTransactionDTO(tx))
	}
	for _, f := range res.Failed {
		i := origIndex[f.Index]
		resp.Failed = append(resp.Failed, toBatchFailureDTO(i, req.Transactions[i], f.Err))
	}
	sort.Slice(resp.Failed, func(i, j int) bool { return resp.Failed[i].Index < resp.Failed[j].Index })

	resp.TotalCreated = len(resp.Successful)
	resp.TotalFailed = len(resp.Failed)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.GetTransaction(r.Context(), ownerFrom(r), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	tx, err := h.Engine.UpdateTransaction(r.Context(), ownerFrom(r), ledger.TransactionID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.DeleteTransaction(r.Context(), ownerFrom(r), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteTransactionResponse{
		TransactionID: string(res.TransactionID),
		Amount:        res.Amount.StringFixed(2),
		Type:          string(res.Type),
		SourceID:      string(res.SourceID),
		SourceBalance: res.SourceBalance.StringFixed(2),
	})
}

// BulkDeleteTransactions requires ?type= so a bare DELETE never wipes
// everything.
func (h *Handler) BulkDeleteTransactions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		h.writeLedgerError(w, r, &ledger.ValidationError{Field: "type", Message: "query parameter is required (expense, income or all)"})
		return
	}
	filter, err := ledger.ParseTypeFilter(raw)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	res, err := h.Engine.BulkDeleteTransactions(r.Context(), ownerFrom(r), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	resp := BulkDeleteResponse{
		DeletedCount: res.DeletedCount,
		Type:         string(res.Type),
		Sources:      make([]SourceBalanceDTO, len(res.Sources)),
	}
	for i, s := range res.Sources {
		resp.Sources[i] = SourceBalanceDTO{SourceID: string(s.SourceID), Name: s.Name, Balance: s.Balance.StringFixed(2)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// AGENT HANDLERS
// =============================================================================

func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ToolListResponse{Tools: h.Agent.ToolNames()})
}

const maxToolArgsBytes = 1 << 20

// InvokeTool passes the raw body to the tool as its arguments. An empty
// body means no arguments.
func (h *Handler) InvokeTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	args, err := io.ReadAll(io.LimitReader(r.Body, maxToolArgsBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body", err)
		return
	}
	res, err := h.Agent.Invoke(r.Context(), ownerFrom(r), name, args)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolResultResponse{Tool: name, Result: res})
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// Audit recomputes the caller's balances from their transactions.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	drifts, n, err := h.Reconciler.AuditOwner(r.Context(), ownerFrom(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	resp := AuditResponse{
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
		Sources:   n,
		Drifts:    make([]DriftDTO, len(drifts)),
	}
	for i, d := range drifts {
		resp.Drifts[i] = DriftDTO{
			SourceID: string(d.SourceID),
			Name:     d.Name,
			Cached:   d.Cached.StringFixed(2),
			Expected: d.Expected.StringFixed(2),
			Drift:    d.Drift.StringFixed(2),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body", err)
		return false
	}
	return true
}

// errorStatus maps a ledger error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusBadRequest, "insufficient_funds"
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ledger.ErrInvalidReference):
		return http.StatusBadRequest, "invalid_reference"
	case errors.Is(err, ledger.ErrNothingToDelete):
		return http.StatusBadRequest, "nothing_to_delete"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, agent.ErrUnknownTool):
		return http.StatusNotFound, "unknown_tool"
	case errors.Is(err, ledger.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, ledger.ErrInUse):
		return http.StatusConflict, "in_use"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeLedgerError never leaks storage details to the client.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			"owner_id", ownerFrom(r), "error", err)
		writeError(w, status, code, "Internal error", nil)
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var funds *ledger.InsufficientFundsError
	if errors.As(err, &funds) {
		resp.SourceName = funds.SourceName
		resp.Balance = funds.Balance.StringFixed(2)
	}
	writeJSON(w, status, resp)
}
