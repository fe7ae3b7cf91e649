/*
Package agent maps chat-agent tool calls onto ledger operations.

PURPOSE:
  The LLM side (prompting, tool-call parsing) lives elsewhere. This
  package receives a tool name plus its raw JSON arguments for an
  already authenticated owner, decodes the arguments strictly into a
  typed struct, validates them and dispatches to the engine.

  Category and source references go through ledger.Resolver, so the
  agent can say "groceries" or "default" instead of ids.

TOOLS:
  add_transaction            ledger.Engine.CreateTransaction
  add_multiple_transactions  ledger.Engine.AddMultipleTransactions
  update_transaction         ledger.Engine.UpdateTransaction
  delete_transaction         ledger.Engine.DeleteTransaction
  bulk_delete_transactions   ledger.Engine.BulkDeleteTransactions

ERRORS:
  Unknown tools fail with ErrUnknownTool. Malformed arguments become
  ledger.ValidationError, so callers map them like any other client
  error.
*/
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/warp/finance-engine/ledger"
)

var ErrUnknownTool = errors.New("unknown tool")

// Handler runs one tool. The result is JSON-serializable.
type Handler func(ctx context.Context, ownerID ledger.OwnerID, args json.RawMessage) (any, error)

type Registry struct {
	tools    map[string]Handler
	engine   *ledger.Engine
	resolver *ledger.Resolver
	logger   *slog.Logger
}

// NewRegistry registers the built-in finance tools.
func NewRegistry(engine *ledger.Engine, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:    make(map[string]Handler),
		engine:   engine,
		resolver: ledger.NewResolver(engine),
		logger:   logger,
	}
	r.Register(ToolAddTransaction, r.addTransaction)
	r.Register(ToolAddMultipleTransactions, r.addMultipleTransactions)
	r.Register(ToolUpdateTransaction, r.updateTransaction)
	r.Register(ToolDeleteTransaction, r.deleteTransaction)
	r.Register(ToolBulkDeleteTransactions, r.bulkDeleteTransactions)
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(name string, h Handler) {
	r.tools[name] = h
}

// ToolNames returns registered tool names, sorted.
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches a tool call.
func (r *Registry) Invoke(ctx context.Context, ownerID ledger.OwnerID, name string, args json.RawMessage) (any, error) {
	h, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	res, err := h(ctx, ownerID, args)
	if err != nil {
		r.logger.DebugContext(ctx, "tool call failed", "tool", name, "owner_id", ownerID, "error", err)
		return nil, err
	}
	r.logger.InfoContext(ctx, "tool call completed", "tool", name, "owner_id", ownerID)
	return res, nil
}

// decodeArgs decodes args into dst, rejecting unknown fields and trailing
// data. Empty args decode as {}.
func decodeArgs(args json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ledger.ValidationError{Field: "arguments", Message: err.Error()}
	}
	if dec.More() {
		return &ledger.ValidationError{Field: "arguments", Message: "unexpected trailing data"}
	}
	return nil
}
