package hook

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"sync"
	"time"

	"github.com/flemzord/memsync/internal/memory"
)

// AuditRecord is one JSON Lines entry written by AuditHook.
type AuditRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	Position     Position       `json:"position"`
	Operation    string         `json:"operation"`
	Filters      memory.Filters `json:"filters,omitempty"`
	VectorStatus string         `json:"vector_status,omitempty"`
	GraphStatus  string         `json:"graph_status,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
	Compensated  *bool          `json:"compensated,omitempty"`
}

// AuditLog serializes records from several AuditHooks onto one writer.
type AuditLog struct {
	writer io.Writer
	mu     sync.Mutex
	now    func() time.Time
}

// NewAuditLog creates an audit log that writes JSON Lines to w.
// In production, w is typically an *os.File; in tests, a *bytes.Buffer.
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{
		writer: w,
		now:    time.Now,
	}
}

// Hook returns an AuditHook recording operations at pos.
func (l *AuditLog) Hook(pos Position) *AuditHook {
	return &AuditHook{log: l, pos: pos}
}

// AuditHook writes one audit record per operation at its position.
// It runs with the lowest priority (runs last).
type AuditHook struct {
	log *AuditLog
	pos Position
}

// Compile-time interface check.
var _ Hook = (*AuditHook)(nil)

// Position returns the position the hook was created for.
func (a *AuditHook) Position() Position { return a.pos }

// Priority returns math.MaxInt so the record sees what earlier hooks saw.
func (a *AuditHook) Priority() int { return math.MaxInt }

// Execute writes one JSON Lines record.
func (a *AuditHook) Execute(_ context.Context, hctx *Context) error {
	record := AuditRecord{
		Timestamp: a.log.now(),
		Position:  hctx.Position,
		Operation: hctx.Operation,
		Filters:   hctx.Filters,
	}
	if hctx.VectorResult != nil {
		record.VectorStatus = string(hctx.VectorResult.Status)
	}
	if hctx.GraphResult != nil {
		record.GraphStatus = string(hctx.GraphResult.Status)
	}
	for _, e := range hctx.Errors {
		record.Errors = append(record.Errors, string(e.Kind)+": "+e.Message)
	}
	if v, ok := hctx.Metadata["compensated"].(bool); ok {
		record.Compensated = &v
	}

	a.log.mu.Lock()
	defer a.log.mu.Unlock()
	return json.NewEncoder(a.log.writer).Encode(record)
}
