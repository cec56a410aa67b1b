// Package hook provides ordered observers for synchronized memory operations.
// Hooks run before an operation, after it succeeds, and after it is rolled
// back. They observe only: errors and panics are logged, never propagated,
// and no hook can stop an operation.
package hook

import (
	"context"
	"log/slog"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
)

// Position identifies where in an operation a hook executes.
type Position string

const (
	// PreOperation runs before any store is touched.
	PreOperation Position = "pre_operation"

	// PostOperation runs after every store action succeeded, or after the
	// vector action in single-store mode.
	PostOperation Position = "post_operation"

	// Rollback runs after a failed operation, once compensation (if any)
	// has been attempted.
	Rollback Position = "rollback"
)

// Context carries the operation state visible to hooks. The same Context is
// passed to every position of one operation, so Metadata can be used to
// hand data from a pre hook to a post hook.
type Context struct {
	Position  Position
	Operation string
	Filters   memory.Filters
	Payload   any

	// VectorResult and GraphResult are nil until the action ran.
	VectorResult *resilience.Result
	GraphResult  *resilience.Result

	// Errors holds every error recorded so far, compensation included.
	Errors []resilience.ErrorDetail

	Metadata map[string]any
	Logger   *slog.Logger
}

// Hook is the extension point for observing operations.
type Hook interface {
	// Position returns where this hook should execute.
	Position() Position

	// Priority determines execution order within a position.
	// Lower values run first.
	Priority() int

	Execute(ctx context.Context, hctx *Context) error
}
