package memorytest

import (
	"context"
	"slices"
	"sync"

	"github.com/flemzord/memsync/internal/memory"
)

// HistoryLog is an in-memory memory.HistoryLog.
type HistoryLog struct {
	calls

	mu      sync.Mutex
	entries []memory.HistoryEntry
}

// NewHistoryLog creates an empty log.
func NewHistoryLog() *HistoryLog { return &HistoryLog{} }

// Compile-time interface check.
var _ memory.HistoryLog = (*HistoryLog)(nil)

func (h *HistoryLog) AddHistory(_ context.Context, e memory.HistoryEntry) error {
	if err := h.enter("AddHistory"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *HistoryLog) History(_ context.Context, memoryID string) ([]memory.HistoryEntry, error) {
	if err := h.enter("History"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []memory.HistoryEntry
	for _, e := range h.entries {
		if e.MemoryID == memoryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *HistoryLog) Count(context.Context) (int, error) {
	if err := h.enter("Count"); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries), nil
}

func (h *HistoryLog) Reset(context.Context) error {
	if err := h.enter("Reset"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	return nil
}

func (h *HistoryLog) DeleteExcept(_ context.Context, keep []string) (int, error) {
	if err := h.enter("DeleteExcept"); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	before := len(h.entries)
	h.entries = slices.DeleteFunc(h.entries, func(e memory.HistoryEntry) bool {
		return !slices.Contains(keep, e.MemoryID)
	})
	return before - len(h.entries), nil
}

// Entries returns a copy of every entry.
func (h *HistoryLog) Entries() []memory.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.entries)
}
