// Package hooktest provides test doubles for the hook package.
package hooktest

import (
	"context"
	"sync"

	"github.com/flemzord/memsync/internal/hook"
)

// MockHook is a configurable test double for hook.Hook.
type MockHook struct {
	PositionVal hook.Position
	PriorityVal int
	ExecuteFunc func(ctx context.Context, hctx *hook.Context) error

	mu       sync.Mutex
	Calls    int
	Contexts []hook.Context
}

// Compile-time interface check.
var _ hook.Hook = (*MockHook)(nil)

// Position returns the configured position.
func (m *MockHook) Position() hook.Position { return m.PositionVal }

// Priority returns the configured priority.
func (m *MockHook) Priority() int { return m.PriorityVal }

// Execute records a snapshot of hctx and delegates to ExecuteFunc.
func (m *MockHook) Execute(ctx context.Context, hctx *hook.Context) error {
	m.mu.Lock()
	m.Calls++
	m.Contexts = append(m.Contexts, *hctx)
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, hctx)
	}
	return nil
}

// CallCount returns the number of times Execute was called.
func (m *MockHook) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// Last returns the snapshot taken at the most recent call.
func (m *MockHook) Last() (hook.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Contexts) == 0 {
		return hook.Context{}, false
	}
	return m.Contexts[len(m.Contexts)-1], true
}
