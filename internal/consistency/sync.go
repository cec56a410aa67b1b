// Package consistency keeps the vector and graph stores aligned. Each
// logical operation either completes on both stores or is compensated on the
// vector store and reported as failed; it is never left silently diverged.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/memsync/internal/hook"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
)

// Operation names a synchronized mutation.
type Operation string

const (
	OpAdd       Operation = "ADD"
	OpUpdate    Operation = "UPDATE"
	OpDelete    Operation = "DELETE"
	OpDeleteAll Operation = "DELETE_ALL"
)

// ParseOperation converts a user-supplied name into an Operation.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpAdd, OpUpdate, OpDelete, OpDeleteAll:
		return op, nil
	}
	return "", resilience.Tagf(resilience.KindValidation, "consistency: unknown operation %q", s)
}

// Payload carries the operation arguments. Which fields are read depends on
// the Operation: ADD uses Messages, Metadata and Infer; UPDATE uses MemoryID
// and Text; DELETE uses MemoryID; DELETE_ALL uses only the filters.
type Payload struct {
	Messages []memory.Message  `json:"messages,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Infer    bool              `json:"infer,omitempty"`
	MemoryID string            `json:"memory_id,omitempty"`
	Text     string            `json:"text,omitempty"`
}

// StageStatus is the outcome of one store action.
type StageStatus string

const (
	StageSuccess      StageStatus = "success"
	StageFailure      StageStatus = "failure"
	StageNotAttempted StageStatus = "not_attempted"
	StageSkipped      StageStatus = "skipped"
)

// SyncResult is the outcome of SynchronizedOperation.
type SyncResult struct {
	Operation    Operation                `json:"operation"`
	Success      bool                     `json:"success"`
	VectorStatus StageStatus              `json:"vector_result"`
	GraphStatus  StageStatus              `json:"graph_result"`
	Events       []memory.MemoryEvent     `json:"events,omitempty"`
	Compensated  *bool                    `json:"compensated,omitempty"`
	Errors       []resilience.ErrorDetail `json:"errors,omitempty"`

	VectorResult *resilience.Result `json:"-"`
	GraphResult  *resilience.Result `json:"-"`
}

// Options configures a Manager.
type Options struct {
	// Handler runs every store call. Default: resilience.DefaultRetryConfig.
	Handler *resilience.Handler

	// VectorBreaker and GraphBreaker guard their store. Nil disables
	// circuit breaking for that store.
	VectorBreaker *resilience.CircuitBreaker
	GraphBreaker  *resilience.CircuitBreaker

	// SingleStore disables the graph layer for the lifetime of the Manager.
	SingleStore bool

	Hooks  *hook.Pipeline
	Logger *slog.Logger
}

// Manager runs synchronized operations over VectorOps and GraphOps.
// It is safe for concurrent use; operations on different memories are not
// ordered relative to each other.
type Manager struct {
	vector *memory.VectorOps
	graph  *memory.GraphOps

	vectorHandler *resilience.Handler
	graphHandler  *resilience.Handler

	singleStore bool
	hooks       *hook.Pipeline
	logger      *slog.Logger
}

// NewManager creates a Manager. The graph layer is disabled when
// opts.SingleStore is set or graph has no store.
func NewManager(vector *memory.VectorOps, graph *memory.GraphOps, opts Options) *Manager {
	h := opts.Handler
	if h == nil {
		h = resilience.NewHandler(resilience.DefaultRetryConfig(), resilience.WithLogger(opts.Logger))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		vector:        vector,
		graph:         graph,
		vectorHandler: h,
		graphHandler:  h,
		singleStore:   opts.SingleStore || !graph.Enabled(),
		hooks:         opts.Hooks,
		logger:        logger,
	}
	if opts.VectorBreaker != nil {
		m.vectorHandler = h.Protect(opts.VectorBreaker)
	}
	if opts.GraphBreaker != nil {
		m.graphHandler = h.Protect(opts.GraphBreaker)
	}
	return m
}

// SingleStore reports whether the graph layer is disabled.
func (m *Manager) SingleStore() bool { return m.singleStore }

// Vector returns the vector operations the Manager mutates.
func (m *Manager) Vector() *memory.VectorOps { return m.vector }

// Graph returns the graph facade.
func (m *Manager) Graph() *memory.GraphOps { return m.graph }

// SynchronizedOperation applies op to the vector store and then to the graph
// store. A vector failure leaves the graph untouched. A graph failure
// triggers one compensating action on the vector store; the result is a
// failure whether or not compensation succeeds.
func (m *Manager) SynchronizedOperation(ctx context.Context, op Operation, payload Payload, filters memory.Filters) *SyncResult {
	res := &SyncResult{
		Operation:    op,
		VectorStatus: StageNotAttempted,
		GraphStatus:  StageNotAttempted,
	}
	if _, err := ParseOperation(string(op)); err != nil {
		res.Errors = append(res.Errors, resilience.NewErrorDetail(err, time.Now(), nil))
		return res
	}

	hctx := &hook.Context{
		Operation: string(op),
		Filters:   filters,
		Payload:   payload,
		Metadata:  make(map[string]any),
		Logger:    m.logger,
	}
	m.hooks.Run(ctx, hook.PreOperation, hctx)

	callerCtx := map[string]any{"operation": string(op)}
	for k, v := range filters {
		callerCtx[k] = v
	}

	// Events accumulate across attempts so a retried DELETE_ALL still knows
	// what earlier attempts removed. A failed ADD attempt is undone first so
	// its retry does not duplicate memories.
	var events []memory.MemoryEvent
	vres := m.vectorHandler.Execute(ctx, "vector."+opName(op), func(ctx context.Context) (any, error) {
		evs, err := m.vectorAction(ctx, op, payload, filters)
		if err != nil && op == OpAdd && len(evs) > 0 {
			evs = m.undoPartialAdd(ctx, evs)
		}
		events = append(events, evs...)
		return evs, err
	}, callerCtx)
	res.VectorResult = vres
	res.Events = events
	hctx.VectorResult = vres

	if !vres.Success {
		res.VectorStatus = StageFailure
		res.Errors = append(res.Errors, vres.Errors...)
		hctx.Errors = res.Errors
		m.logger.Warn("vector action failed, graph not attempted", "operation", op)
		m.hooks.Run(ctx, hook.Rollback, hctx)
		return res
	}
	res.VectorStatus = StageSuccess

	if m.singleStore {
		res.GraphStatus = StageSkipped
		res.Success = true
		m.hooks.Run(ctx, hook.PostOperation, hctx)
		return res
	}

	gres := m.graphHandler.Execute(ctx, "graph."+opName(op), func(ctx context.Context) (any, error) {
		return m.graphAction(ctx, op, payload, filters, events)
	}, callerCtx)
	res.GraphResult = gres
	hctx.GraphResult = gres

	if !gres.Success {
		res.GraphStatus = StageFailure
		res.Errors = append(res.Errors, gres.Errors...)

		comp := m.vectorHandler.WithoutRetry().Execute(ctx, "vector.compensate."+opName(op), func(ctx context.Context) (any, error) {
			return nil, m.compensate(ctx, events)
		}, callerCtx)
		compensated := comp.Success
		res.Compensated = &compensated
		hctx.Metadata["compensated"] = compensated
		if !compensated {
			res.Errors = append(res.Errors, comp.Errors...)
			m.logger.Error("compensation failed, stores diverged",
				"operation", op,
				"events", len(events),
			)
		} else {
			m.logger.Warn("graph action failed, vector action compensated", "operation", op)
		}

		hctx.Errors = res.Errors
		m.hooks.Run(ctx, hook.Rollback, hctx)
		return res
	}

	res.GraphStatus = StageSuccess
	res.Success = true
	m.hooks.Run(ctx, hook.PostOperation, hctx)
	return res
}

func (m *Manager) vectorAction(ctx context.Context, op Operation, p Payload, filters memory.Filters) ([]memory.MemoryEvent, error) {
	switch op {
	case OpAdd:
		return m.vector.Add(ctx, p.Messages, memory.AddOptions{
			Metadata: p.Metadata,
			Filters:  filters,
			Infer:    p.Infer,
		})
	case OpUpdate:
		ev, err := m.vector.Update(ctx, p.MemoryID, p.Text)
		if err != nil {
			return nil, err
		}
		return []memory.MemoryEvent{ev}, nil
	case OpDelete:
		ev, err := m.vector.Delete(ctx, p.MemoryID)
		if err != nil {
			return nil, err
		}
		return []memory.MemoryEvent{ev}, nil
	case OpDeleteAll:
		return m.vector.DeleteAll(ctx, filters)
	}
	return nil, fmt.Errorf("consistency: unsupported operation %s", op)
}

func (m *Manager) graphAction(ctx context.Context, op Operation, p Payload, filters memory.Filters, events []memory.MemoryEvent) (any, error) {
	switch op {
	case OpAdd:
		return m.graph.Add(ctx, p.Messages, filters)
	case OpUpdate:
		return m.graph.AddText(ctx, p.Text, scopeOf(filters, events))
	case OpDelete:
		var text string
		if len(events) > 0 && events[0].Before != nil {
			text = events[0].Before.Memory
		}
		return nil, m.graph.Delete(ctx, text, scopeOf(filters, events))
	case OpDeleteAll:
		return nil, m.graph.DeleteAll(ctx, filters)
	}
	return nil, fmt.Errorf("consistency: unsupported operation %s", op)
}

// compensate undoes events on the vector store, newest first. Every event is
// attempted; failures are joined.
func (m *Manager) compensate(ctx context.Context, events []memory.MemoryEvent) error {
	var errs []error
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		var err error
		switch ev.Event {
		case memory.EventAdd:
			_, err = m.vector.Delete(ctx, ev.ID)
		case memory.EventUpdate:
			if ev.Before == nil {
				err = fmt.Errorf("consistency: no pre-image for update of %s", ev.ID)
				break
			}
			_, err = m.vector.Update(ctx, ev.ID, ev.Before.Memory)
		case memory.EventDelete:
			if ev.Before == nil {
				err = fmt.Errorf("consistency: no pre-image for delete of %s", ev.ID)
				break
			}
			err = m.vector.Restore(ctx, *ev.Before)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("undo %s %s: %w", ev.Event, ev.ID, err))
		}
	}
	return errors.Join(errs...)
}

// undoPartialAdd removes the memories a failed ADD attempt created and
// returns the events it could not undo.
func (m *Manager) undoPartialAdd(ctx context.Context, evs []memory.MemoryEvent) []memory.MemoryEvent {
	ctx = context.WithoutCancel(ctx)
	var left []memory.MemoryEvent
	for i := len(evs) - 1; i >= 0; i-- {
		if err := m.compensate(ctx, evs[i:i+1]); err != nil {
			m.logger.Error("undoing partial add failed", "memory_id", evs[i].ID, "error", err)
			left = append(left, evs[i])
		}
	}
	slices.Reverse(left)
	return left
}

func opName(op Operation) string { return strings.ToLower(string(op)) }

// scopeOf returns filters, or the identity of the first pre-image when
// filters are empty.
func scopeOf(filters memory.Filters, events []memory.MemoryEvent) memory.Filters {
	if len(filters) > 0 {
		return filters
	}
	for _, ev := range events {
		if ev.Before == nil {
			continue
		}
		f := memory.Filters{}
		if ev.Before.UserID != "" {
			f[memory.KeyUserID] = ev.Before.UserID
		}
		if ev.Before.AgentID != "" {
			f[memory.KeyAgentID] = ev.Before.AgentID
		}
		if ev.Before.RunID != "" {
			f[memory.KeyRunID] = ev.Before.RunID
		}
		return f
	}
	return filters
}
