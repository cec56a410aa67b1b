package hook

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Pipeline manages hook registration and execution.
// Hooks are grouped by position and sorted by (priority, registration order).
// Thread-safe: registrations use a write lock, executions use a read lock.
type Pipeline struct {
	mu    sync.RWMutex
	hooks map[Position][]Hook
	// order tracks registration sequence for stable sorting.
	order map[Hook]int
	seq   int
}

// NewPipeline creates a new empty hook pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		hooks: make(map[Position][]Hook),
		order: make(map[Hook]int),
	}
}

// Register adds a hook to the pipeline. Hooks within the same position
// are sorted by priority (ascending), with registration order as tiebreaker.
func (p *Pipeline) Register(h Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := h.Position()
	p.order[h] = p.seq
	p.seq++

	p.hooks[pos] = append(p.hooks[pos], h)
	slices.SortStableFunc(p.hooks[pos], func(a, b Hook) int {
		if a.Priority() != b.Priority() {
			return a.Priority() - b.Priority()
		}
		return p.order[a] - p.order[b]
	})
}

// Len returns the number of hooks registered at pos.
func (p *Pipeline) Len(pos Position) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.hooks[pos])
}

// Run executes every hook registered at pos in order. A nil Pipeline runs
// nothing.
func (p *Pipeline) Run(ctx context.Context, pos Position, hctx *Context) {
	if p == nil {
		return
	}
	p.mu.RLock()
	hooks := slices.Clone(p.hooks[pos])
	p.mu.RUnlock()

	hctx.Position = pos
	for _, h := range hooks {
		if err := safeExecute(ctx, h, hctx); err != nil && hctx.Logger != nil {
			hctx.Logger.Warn("hook error",
				"position", string(pos),
				"operation", hctx.Operation,
				"priority", h.Priority(),
				"error", err,
			)
		}
	}
}

func safeExecute(ctx context.Context, h Hook, hctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook: panic: %v", r)
		}
	}()
	return h.Execute(ctx, hctx)
}

// LogHook logs every operation at its position. It is the default observer
// when no audit file is configured.
type LogHook struct {
	Pos    Position
	Logger *slog.Logger
}

// Compile-time interface check.
var _ Hook = (*LogHook)(nil)

// Position returns the configured position.
func (l *LogHook) Position() Position { return l.Pos }

// Priority returns 0.
func (l *LogHook) Priority() int { return 0 }

// Execute writes one log record.
func (l *LogHook) Execute(ctx context.Context, hctx *Context) error {
	level := slog.LevelDebug
	if l.Pos == Rollback {
		level = slog.LevelWarn
	}
	l.Logger.Log(ctx, level, "memory operation",
		"position", string(hctx.Position),
		"operation", hctx.Operation,
		"errors", len(hctx.Errors),
	)
	return nil
}
