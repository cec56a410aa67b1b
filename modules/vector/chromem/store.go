package chromem

import (
	"context"
	"fmt"
	"sync"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
	chromem "github.com/philippgille/chromem-go"
)

// Store is a memory.VectorStore over one chromem collection. Payloads are
// kept as document metadata and the memory text as document content.
type Store struct {
	db   *chromem.DB
	name string
	dim  int

	mu  sync.RWMutex
	col *chromem.Collection

	// removing is held for writing while documents are deleted so a query
	// never asks for more results than the collection holds.
	removing sync.RWMutex
}

// NewStore opens or creates the collection name in db. Vectors must have dim
// components.
func NewStore(db *chromem.DB, name string, dim int) (*Store, error) {
	s := &Store{db: db, name: name, dim: dim}
	col, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %s: %w", name, err)
	}
	s.col = col
	return s, nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	return s.collection().Count()
}

func (s *Store) collection() *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col
}

// Insert implements memory.VectorStore.
func (s *Store) Insert(ctx context.Context, vectors [][]float32, ids []string, payloads []memory.Payload) error {
	if len(vectors) != len(ids) || len(ids) != len(payloads) {
		return resilience.Tagf(resilience.KindValidation,
			"chromem: insert: %d vectors, %d ids, %d payloads", len(vectors), len(ids), len(payloads))
	}
	col := s.collection()
	for i, id := range ids {
		if err := s.checkDim(vectors[i]); err != nil {
			return err
		}
		if err := col.AddDocument(ctx, document(id, vectors[i], payloads[i])); err != nil {
			return fmt.Errorf("chromem: add document %s: %w", id, err)
		}
	}
	return nil
}

// Search implements memory.VectorStore. Scores are cosine similarities.
func (s *Store) Search(ctx context.Context, _ string, vector []float32, limit int, filters memory.Filters) ([]memory.Record, error) {
	if err := s.checkDim(vector); err != nil {
		return nil, err
	}
	return s.query(ctx, vector, limit, filters, true)
}

// Get implements memory.VectorStore.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	if id == "" {
		return nil, nil
	}
	doc, err := s.collection().GetByID(ctx, id)
	if err != nil {
		// The only other failure is an empty id.
		return nil, nil
	}
	return &memory.Record{ID: doc.ID, Payload: memory.Payload(doc.Metadata)}, nil
}

// Update implements memory.VectorStore.
func (s *Store) Update(ctx context.Context, id string, vector []float32, payload memory.Payload) error {
	col := s.collection()
	if vector == nil {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			return resilience.Tag(resilience.KindNotFound, fmt.Errorf("chromem: update %s: %w", id, err))
		}
		vector = doc.Embedding
	} else if err := s.checkDim(vector); err != nil {
		return err
	}
	if err := col.AddDocument(ctx, document(id, vector, payload)); err != nil {
		return fmt.Errorf("chromem: update %s: %w", id, err)
	}
	return nil
}

// Delete implements memory.VectorStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.removing.Lock()
	defer s.removing.Unlock()

	col := s.collection()
	if _, err := col.GetByID(ctx, id); err != nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: delete %s: %w", id, err)
	}
	return nil
}

// List implements memory.VectorStore. chromem has no scan, so List ranks
// every document against a fixed probe vector and keeps the filtered ones.
func (s *Store) List(ctx context.Context, filters memory.Filters, limit int) ([]memory.Record, error) {
	probe := make([]float32, s.dim)
	probe[0] = 1
	return s.query(ctx, probe, limit, filters, false)
}

// DeleteCollection implements memory.VectorStore. The collection is recreated
// empty.
func (s *Store) DeleteCollection(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("chromem: delete collection %s: %w", s.name, err)
	}
	col, err := s.db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("chromem: recreate collection %s: %w", s.name, err)
	}
	s.col = col
	return nil
}

func (s *Store) query(ctx context.Context, vector []float32, limit int, filters memory.Filters, withScore bool) ([]memory.Record, error) {
	s.removing.RLock()
	defer s.removing.RUnlock()

	col := s.collection()
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit > 0 && limit < n {
		n = limit
	}

	var where map[string]string
	if len(filters) > 0 {
		where = map[string]string(filters)
	}
	results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	out := make([]memory.Record, 0, len(results))
	for _, r := range results {
		rec := memory.Record{ID: r.ID, Payload: memory.Payload(r.Metadata)}
		if withScore {
			score := float64(r.Similarity)
			rec.Score = &score
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) checkDim(v []float32) error {
	if len(v) != s.dim {
		return resilience.Tagf(resilience.KindValidation,
			"chromem: vector has %d dimensions, collection expects %d", len(v), s.dim)
	}
	return nil
}

func document(id string, vector []float32, payload memory.Payload) chromem.Document {
	meta := make(map[string]string, len(payload))
	for k, v := range payload {
		meta[k] = v
	}
	content := payload[memory.KeyData]
	if content == "" {
		content = id
	}
	return chromem.Document{
		ID:        id,
		Metadata:  meta,
		Embedding: vector,
		Content:   content,
	}
}
