package memory

import (
	"context"
	"errors"

	"github.com/flemzord/memsync/internal/resilience"
)

// ErrNotFound indicates the requested memory does not exist.
var ErrNotFound = errors.New("memory: not found")

// notFound tags ErrNotFound with the id that was missing.
func notFound(id string) error {
	return resilience.Tag(resilience.KindNotFound, &idError{id: id})
}

type idError struct{ id string }

func (e *idError) Error() string { return ErrNotFound.Error() + ": " + e.id }
func (e *idError) Unwrap() error { return ErrNotFound }

// VectorStore is the similarity-search backend holding memory embeddings.
// Implementations must be safe for concurrent use and should tag failures
// with a resilience.Kind.
type VectorStore interface {
	// Insert stores vectors with their ids and payloads. An existing id is
	// overwritten.
	Insert(ctx context.Context, vectors [][]float32, ids []string, payloads []Payload) error

	// Search returns up to limit records ranked by similarity to vector and
	// restricted to filters.
	Search(ctx context.Context, query string, vector []float32, limit int, filters Filters) ([]Record, error)

	// Get returns the record for id, or nil when it does not exist.
	Get(ctx context.Context, id string) (*Record, error)

	// Update replaces the vector and payload of id. A nil vector keeps the
	// stored one.
	Update(ctx context.Context, id string, vector []float32, payload Payload) error

	// Delete removes id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns records matching filters. limit <= 0 means no limit.
	List(ctx context.Context, filters Filters, limit int) ([]Record, error)

	// DeleteCollection drops every record.
	DeleteCollection(ctx context.Context) error
}

// GraphStore holds entities and relationships extracted from memory text.
// Implementations must be safe for concurrent use.
type GraphStore interface {
	Add(ctx context.Context, data string, filters Filters) (GraphAddResult, error)
	Search(ctx context.Context, query string, filters Filters, limit int) ([]Relation, error)
	GetAll(ctx context.Context, filters Filters, limit int) ([]Relation, error)
	DeleteAll(ctx context.Context, filters Filters) error

	// Delete removes the relationships extracted from data.
	Delete(ctx context.Context, data string, filters Filters) error

	// DetachDelete removes nodes matching match together with their edges.
	// With negate, nodes NOT matching are removed instead. An empty match
	// without negate removes everything. It returns the removed node count.
	DetachDelete(ctx context.Context, match Filters, negate bool) (int, error)
}

// Purpose tells the embedder what a vector is used for.
type Purpose string

const (
	PurposeAdd    Purpose = "add"
	PurposeUpdate Purpose = "update"
	PurposeSearch Purpose = "search"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error)
}

// ResponseFormat selects the shape of an LLM reply.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json_object"
)

// LLM produces completions for fact extraction and update decisions.
type LLM interface {
	GenerateResponse(ctx context.Context, messages []Message, format ResponseFormat) (string, error)
}

// HistoryLog is the append-only record of memory mutations.
type HistoryLog interface {
	AddHistory(ctx context.Context, entry HistoryEntry) error

	// History returns the entries of memoryID, oldest first.
	History(ctx context.Context, memoryID string) ([]HistoryEntry, error)

	Count(ctx context.Context) (int, error)

	// Reset drops and recreates the log inside one transaction.
	Reset(ctx context.Context) error

	// DeleteExcept removes every entry whose memory id is not in keep and
	// returns the number of removed rows.
	DeleteExcept(ctx context.Context, keep []string) (int, error)
}
