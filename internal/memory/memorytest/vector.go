// Package memorytest provides in-memory test doubles for the memory store
// interfaces. Every double counts calls per method and can be told to fail.
package memorytest

import (
	"context"
	"crypto/md5"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/flemzord/memsync/internal/memory"
)

// calls is an embeddable per-method call counter with failure injection.
type calls struct {
	mu     sync.Mutex
	counts map[string]int

	// FailFunc, when set, is consulted before every method with the method
	// name. A non-nil error is returned without touching state.
	FailFunc func(method string) error
}

func (c *calls) enter(method string) error {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[method]++
	fail := c.FailFunc
	c.mu.Unlock()
	if fail != nil {
		return fail(method)
	}
	return nil
}

// Calls returns how many times method was invoked.
func (c *calls) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[method]
}

// FailOn returns a FailFunc failing every call to one of methods with err.
func FailOn(err error, methods ...string) func(string) error {
	return func(m string) error {
		if slices.Contains(methods, m) {
			return err
		}
		return nil
	}
}

type vectorRow struct {
	vec     []float32
	payload memory.Payload
	seq     int
}

// VectorStore is an in-memory memory.VectorStore ranking by cosine
// similarity.
type VectorStore struct {
	calls

	mu   sync.RWMutex
	rows map[string]vectorRow
	seq  int
}

// NewVectorStore creates an empty store.
func NewVectorStore() *VectorStore {
	return &VectorStore{rows: make(map[string]vectorRow)}
}

// Compile-time interface check.
var _ memory.VectorStore = (*VectorStore)(nil)

func (s *VectorStore) Insert(_ context.Context, vectors [][]float32, ids []string, payloads []memory.Payload) error {
	if err := s.enter("Insert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		s.seq++
		s.rows[id] = vectorRow{vec: vectors[i], payload: payloads[i].Clone(), seq: s.seq}
	}
	return nil
}

func (s *VectorStore) Search(_ context.Context, _ string, vector []float32, limit int, filters memory.Filters) ([]memory.Record, error) {
	if err := s.enter("Search"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.Record
	for id, r := range s.rows {
		if !filters.Matches(r.payload) {
			continue
		}
		score := cosine(vector, r.vec)
		out = append(out, memory.Record{ID: id, Payload: r.payload.Clone(), Score: &score})
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].Score > *out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *VectorStore) Get(_ context.Context, id string) (*memory.Record, error) {
	if err := s.enter("Get"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &memory.Record{ID: id, Payload: r.payload.Clone()}, nil
}

func (s *VectorStore) Update(_ context.Context, id string, vector []float32, payload memory.Payload) error {
	if err := s.enter("Update"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	if vector != nil {
		r.vec = vector
	}
	r.payload = payload.Clone()
	if r.seq == 0 {
		s.seq++
		r.seq = s.seq
	}
	s.rows[id] = r
	return nil
}

func (s *VectorStore) Delete(_ context.Context, id string) error {
	if err := s.enter("Delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

// List returns matching records in insertion order.
func (s *VectorStore) List(_ context.Context, filters memory.Filters, limit int) ([]memory.Record, error) {
	if err := s.enter("List"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type seqRecord struct {
		seq int
		rec memory.Record
	}
	var rows []seqRecord
	for id, r := range s.rows {
		if filters.Matches(r.payload) {
			rows = append(rows, seqRecord{r.seq, memory.Record{ID: id, Payload: r.payload.Clone()}})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]memory.Record, 0, len(rows))
	for _, r := range rows {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r.rec)
	}
	return out, nil
}

func (s *VectorStore) DeleteCollection(context.Context) error {
	if err := s.enter("DeleteCollection"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]vectorRow)
	return nil
}

// Len returns the number of stored records.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Embedder returns deterministic unit vectors derived from the text.
type Embedder struct {
	calls

	// Dims is the vector size. Zero means 8.
	Dims int
}

// Compile-time interface check.
var _ memory.Embedder = (*Embedder)(nil)

func (e *Embedder) Embed(_ context.Context, text string, _ memory.Purpose) ([]float32, error) {
	if err := e.enter("Embed"); err != nil {
		return nil, err
	}
	return Vector(text, e.Dims), nil
}

// Vector returns the deterministic unit vector Embedder produces for text.
func Vector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = 8
	}
	sum := md5.Sum([]byte(text))
	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)]) + 1
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
