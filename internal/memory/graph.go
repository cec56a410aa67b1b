package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"
)

// DefaultGraphUser partitions graph data when filters name no user.
const DefaultGraphUser = "user"

const defaultGraphWorkers = 8

// GraphOps is the facade over an optional GraphStore. With no store every
// method is a no-op returning empty results, so callers never check whether
// the graph layer is enabled.
type GraphOps struct {
	store  GraphStore
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// GraphOption configures optional GraphOps behavior.
type GraphOption func(*graphOptions)

type graphOptions struct {
	workers int64
	logger  *slog.Logger
}

// WithGraphWorkers bounds the number of async calls in flight. Default: 8.
func WithGraphWorkers(n int) GraphOption {
	return func(o *graphOptions) {
		if n > 0 {
			o.workers = int64(n)
		}
	}
}

// WithGraphLogger injects a structured logger.
func WithGraphLogger(l *slog.Logger) GraphOption {
	return func(o *graphOptions) { o.logger = l }
}

// NewGraphOps creates the facade. A nil store disables the graph layer.
func NewGraphOps(store GraphStore, opts ...GraphOption) *GraphOps {
	o := graphOptions{workers: defaultGraphWorkers}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &GraphOps{
		store:  store,
		sem:    semaphore.NewWeighted(o.workers),
		logger: o.logger,
	}
}

// Enabled reports whether a graph store is configured.
func (g *GraphOps) Enabled() bool { return g != nil && g.store != nil }

// Store returns the underlying graph store, or nil when disabled.
func (g *GraphOps) Store() GraphStore {
	if !g.Enabled() {
		return nil
	}
	return g.store
}

// Add extracts entities from the non-system messages, joined into one text.
func (g *GraphOps) Add(ctx context.Context, messages []Message, filters Filters) (GraphAddResult, error) {
	var parts []string
	for _, m := range messages {
		if m.Role != "system" && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return g.AddText(ctx, strings.Join(parts, "\n"), filters)
}

// AddText extracts entities from text.
func (g *GraphOps) AddText(ctx context.Context, text string, filters Filters) (GraphAddResult, error) {
	if !g.Enabled() || text == "" {
		return GraphAddResult{}, nil
	}
	res, err := g.store.Add(ctx, text, withUser(filters))
	if err != nil {
		return GraphAddResult{}, fmt.Errorf("graph: add: %w", err)
	}
	return res, nil
}

// Search returns relations relevant to query.
func (g *GraphOps) Search(ctx context.Context, query string, filters Filters, limit int) ([]Relation, error) {
	if !g.Enabled() {
		return nil, nil
	}
	rels, err := g.store.Search(ctx, query, withUser(filters), limit)
	if err != nil {
		return nil, fmt.Errorf("graph: search: %w", err)
	}
	return rels, nil
}

// GetAll lists relations in scope.
func (g *GraphOps) GetAll(ctx context.Context, filters Filters, limit int) ([]Relation, error) {
	if !g.Enabled() {
		return nil, nil
	}
	rels, err := g.store.GetAll(ctx, withUser(filters), limit)
	if err != nil {
		return nil, fmt.Errorf("graph: get all: %w", err)
	}
	return rels, nil
}

// DeleteAll removes every relation in scope.
func (g *GraphOps) DeleteAll(ctx context.Context, filters Filters) error {
	if !g.Enabled() {
		return nil
	}
	if err := g.store.DeleteAll(ctx, withUser(filters)); err != nil {
		return fmt.Errorf("graph: delete all: %w", err)
	}
	return nil
}

// Delete removes the relations extracted from text.
func (g *GraphOps) Delete(ctx context.Context, text string, filters Filters) error {
	if !g.Enabled() || text == "" {
		return nil
	}
	if err := g.store.Delete(ctx, text, withUser(filters)); err != nil {
		return fmt.Errorf("graph: delete: %w", err)
	}
	return nil
}

// Future is the pending result of an async graph call.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the call finishes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// submit runs fn on a worker. The caller blocks until a worker slot frees.
func submit[T any](ctx context.Context, g *GraphOps, fn func(context.Context) (T, error)) (*Future[T], error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("graph: waiting for worker: %w", err)
	}
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer g.sem.Release(1)
		defer close(f.done)
		f.val, f.err = fn(ctx)
	}()
	return f, nil
}

// AddAsync runs Add on a worker. Concurrent calls are not ordered.
func (g *GraphOps) AddAsync(ctx context.Context, messages []Message, filters Filters) (*Future[GraphAddResult], error) {
	return submit(ctx, g, func(ctx context.Context) (GraphAddResult, error) {
		return g.Add(ctx, messages, filters)
	})
}

// SearchAsync runs Search on a worker.
func (g *GraphOps) SearchAsync(ctx context.Context, query string, filters Filters, limit int) (*Future[[]Relation], error) {
	return submit(ctx, g, func(ctx context.Context) ([]Relation, error) {
		return g.Search(ctx, query, filters, limit)
	})
}

// GetAllAsync runs GetAll on a worker.
func (g *GraphOps) GetAllAsync(ctx context.Context, filters Filters, limit int) (*Future[[]Relation], error) {
	return submit(ctx, g, func(ctx context.Context) ([]Relation, error) {
		return g.GetAll(ctx, filters, limit)
	})
}

// DeleteAllAsync runs DeleteAll on a worker.
func (g *GraphOps) DeleteAllAsync(ctx context.Context, filters Filters) (*Future[struct{}], error) {
	return submit(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.DeleteAll(ctx, filters)
	})
}

func withUser(f Filters) Filters {
	out := f.Clone()
	if out == nil {
		out = make(Filters, 1)
	}
	if out[KeyUserID] == "" {
		out[KeyUserID] = DefaultGraphUser
	}
	return out
}
