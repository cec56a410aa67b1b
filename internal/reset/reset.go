// Package reset performs scoped, auditable wipes of the memory stores.
package reset

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/memsync/internal/hook"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
)

// Unknown is reported when a count cannot be obtained.
const Unknown = "unknown"

// ComponentSummary describes what a reset would remove from one store.
type ComponentSummary struct {
	Component   Component `json:"component"`
	InScope     bool      `json:"in_scope"`
	Count       string    `json:"count"`
	Description string    `json:"description"`
}

// Summary is the best-effort preview of a reset.
type Summary struct {
	Scope           Scope              `json:"scope"`
	PreserveFilters memory.Filters     `json:"preserve_filters,omitempty"`
	Components      []ComponentSummary `json:"components"`
}

// Report is the outcome of Reset.
type Report struct {
	Scope    Scope                    `json:"scope"`
	DryRun   bool                     `json:"dry_run"`
	Success  bool                     `json:"success"`
	Summary  Summary                  `json:"summary"`
	Removed  map[Component]int        `json:"removed,omitempty"`
	Errors   []resilience.ErrorDetail `json:"errors,omitempty"`
	Warnings []string                 `json:"warnings,omitempty"`
}

// Config wires a Manager.
type Config struct {
	Handler       *resilience.Handler
	VectorBreaker *resilience.CircuitBreaker
	GraphBreaker  *resilience.CircuitBreaker

	// SingleStore skips the graph component with a warning.
	SingleStore bool

	// Hooks receives a PostOperation event for every executed reset.
	Hooks *hook.Pipeline

	Logger *slog.Logger
}

// Manager resets the stores. Resets are serialized by one lock held for the
// whole operation.
type Manager struct {
	vector  memory.VectorStore
	graph   memory.GraphStore
	history memory.HistoryLog

	vectorHandler  *resilience.Handler
	graphHandler   *resilience.Handler
	historyHandler *resilience.Handler

	hooks  *hook.Pipeline
	logger *slog.Logger
	mu     sync.Mutex
}

// NewManager creates a Manager. A nil graph, or cfg.SingleStore, disables
// the graph component.
func NewManager(vector memory.VectorStore, graph memory.GraphStore, history memory.HistoryLog, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := cfg.Handler
	if h == nil {
		h = resilience.NewHandler(resilience.DefaultRetryConfig(), resilience.WithLogger(cfg.Logger))
	}
	m := &Manager{
		vector:         vector,
		graph:          graph,
		history:        history,
		vectorHandler:  h,
		graphHandler:   h,
		historyHandler: h,
		hooks:          cfg.Hooks,
		logger:         cfg.Logger,
	}
	if cfg.SingleStore {
		m.graph = nil
	}
	if cfg.VectorBreaker != nil {
		m.vectorHandler = h.Protect(cfg.VectorBreaker)
	}
	if cfg.GraphBreaker != nil {
		m.graphHandler = h.Protect(cfg.GraphBreaker)
	}
	return m
}

// Summary previews opts. It never fails: counts that cannot be read are
// reported as "unknown".
func (m *Manager) Summary(ctx context.Context, opts Options) Summary {
	s := Summary{Scope: opts.Scope, PreserveFilters: opts.PreserveFilters}

	vec := ComponentSummary{Component: ComponentVector, InScope: opts.Scope.Includes(ComponentVector), Count: Unknown}
	if recs, err := m.vector.List(ctx, nil, 0); err != nil {
		m.logger.Warn("counting vector records failed", "error", err)
		vec.Description = "vector store unreachable"
	} else {
		vec.Count = strconv.Itoa(len(recs))
		vec.Description = fmt.Sprintf("%d memories", len(recs))
		if len(opts.PreserveFilters) > 0 {
			kept := 0
			for _, r := range recs {
				if opts.PreserveFilters.Matches(r.Payload) {
					kept++
				}
			}
			vec.Description = fmt.Sprintf("%d memories, %d preserved", len(recs), kept)
		}
	}

	graph := ComponentSummary{Component: ComponentGraph, InScope: opts.Scope.Includes(ComponentGraph), Count: Unknown}
	switch {
	case m.graph == nil:
		graph.Description = "graph store disabled"
	case len(opts.PreserveFilters) > 0:
		graph.Description = "all entities and relationships outside " + describe(opts.PreserveFilters)
	default:
		graph.Description = "all entities and relationships"
	}

	hist := ComponentSummary{Component: ComponentHistory, InScope: opts.Scope.Includes(ComponentHistory), Count: Unknown}
	if n, err := m.history.Count(ctx); err != nil {
		m.logger.Warn("counting history rows failed", "error", err)
		hist.Description = "history log unreachable"
	} else {
		hist.Count = strconv.Itoa(n)
		hist.Description = fmt.Sprintf("%d history rows", n)
	}

	s.Components = []ComponentSummary{vec, graph, hist}
	return s
}

// Reset removes data according to opts. A dry run only returns the summary.
// Each component is attempted even when an earlier one failed; Success is
// false if any failed.
func (m *Manager) Reset(ctx context.Context, opts Options) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := &Report{
		Scope:   opts.Scope,
		DryRun:  opts.DryRun,
		Summary: m.Summary(ctx, opts),
	}
	if _, ok := scopeComponents[opts.Scope]; !ok {
		rep.Errors = append(rep.Errors, resilience.NewErrorDetail(
			resilience.Tagf(resilience.KindValidation, "reset: unknown scope %q", opts.Scope), time.Now(), nil,
		))
		return rep
	}
	if err := ValidatePreserve(opts.PreserveFilters); err != nil {
		rep.Errors = append(rep.Errors, resilience.NewErrorDetail(err, time.Now(), nil))
		return rep
	}
	if opts.DryRun {
		rep.Success = true
		return rep
	}

	rep.Removed = make(map[Component]int)
	preserve := opts.PreserveFilters
	callerCtx := map[string]any{"scope": string(opts.Scope)}

	for _, c := range opts.Scope.Components() {
		var (
			h  *resilience.Handler
			op resilience.Operation
		)
		switch c {
		case ComponentVector:
			h, op = m.vectorHandler, func(ctx context.Context) (any, error) { return m.resetVector(ctx, preserve) }
		case ComponentGraph:
			if m.graph == nil {
				rep.Warnings = append(rep.Warnings, "graph store disabled, graph reset skipped")
				continue
			}
			h, op = m.graphHandler, func(ctx context.Context) (any, error) { return m.resetGraph(ctx, preserve) }
		case ComponentHistory:
			h, op = m.historyHandler, func(ctx context.Context) (any, error) { return m.resetHistory(ctx, preserve) }
		}

		res := h.Execute(ctx, "reset."+string(c), op, callerCtx)
		if !res.Success {
			rep.Errors = append(rep.Errors, res.Errors...)
			m.logger.Error("reset component failed", "component", c, "status", res.Status)
			continue
		}
		if n, ok := res.Data.(int); ok {
			rep.Removed[c] = n
		}
		rep.Warnings = append(rep.Warnings, res.Warnings...)
		m.logger.Info("reset component done", "component", c, "removed", rep.Removed[c])
	}

	rep.Success = len(rep.Errors) == 0
	m.hooks.Run(ctx, hook.PostOperation, &hook.Context{
		Operation: "RESET_" + string(opts.Scope),
		Filters:   preserve,
		Payload:   rep,
		Errors:    rep.Errors,
		Metadata:  map[string]any{"removed": rep.Removed},
		Logger:    m.logger,
	})
	return rep
}

// preserveKeys are the filter keys every store can match on.
var preserveKeys = []string{memory.KeyUserID, memory.KeyAgentID, memory.KeyRunID}

// ValidatePreserve rejects preserve filters on keys outside user_id,
// agent_id and run_id.
func ValidatePreserve(f memory.Filters) error {
	for k := range f {
		if !slices.Contains(preserveKeys, k) {
			return resilience.Tagf(resilience.KindValidation,
				"reset: cannot preserve on %q, use one of %s", k, strings.Join(preserveKeys, ", "))
		}
	}
	return nil
}

func (m *Manager) resetVector(ctx context.Context, preserve memory.Filters) (int, error) {
	if len(preserve) == 0 {
		n := 0
		if recs, err := m.vector.List(ctx, nil, 0); err == nil {
			n = len(recs)
		}
		if err := m.vector.DeleteCollection(ctx); err != nil {
			return 0, fmt.Errorf("reset: dropping vector collection: %w", err)
		}
		return n, nil
	}

	recs, err := m.vector.List(ctx, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("reset: listing vector records: %w", err)
	}
	removed := 0
	for _, r := range recs {
		if preserve.Matches(r.Payload) {
			continue
		}
		if err := m.vector.Delete(ctx, r.ID); err != nil {
			return removed, fmt.Errorf("reset: deleting %s: %w", r.ID, err)
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) resetGraph(ctx context.Context, preserve memory.Filters) (int, error) {
	n, err := m.graph.DetachDelete(ctx, preserve, len(preserve) > 0)
	if err != nil {
		return 0, fmt.Errorf("reset: detach-deleting graph: %w", err)
	}
	return n, nil
}

func (m *Manager) resetHistory(ctx context.Context, preserve memory.Filters) (int, error) {
	if len(preserve) == 0 {
		n, _ := m.history.Count(ctx)
		if err := m.history.Reset(ctx); err != nil {
			return 0, fmt.Errorf("reset: recreating history: %w", err)
		}
		return n, nil
	}

	kept, err := m.vector.List(ctx, preserve, 0)
	if err != nil {
		return 0, fmt.Errorf("reset: listing preserved memories: %w", err)
	}
	ids := make([]string, 0, len(kept))
	for _, r := range kept {
		ids = append(ids, r.ID)
	}
	n, err := m.history.DeleteExcept(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("reset: pruning history: %w", err)
	}
	return n, nil
}

// describe renders filters as sorted "k=v" pairs.
func describe(f memory.Filters) string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
