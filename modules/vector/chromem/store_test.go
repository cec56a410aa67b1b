package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
	chromem "github.com/philippgille/chromem-go"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(chromem.NewDB(), "test", 3)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func payload(data, user string) memory.Payload {
	return memory.Payload{memory.KeyData: data, memory.KeyUserID: user, memory.KeyHash: memory.Hash(data)}
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	err := s.Insert(context.Background(),
		[][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 1}},
		[]string{"a", "b", "c", "d"},
		[]memory.Payload{
			payload("likes tea", "alice"),
			payload("likes green tea", "alice"),
			payload("plays chess", "alice"),
			payload("owns a cat", "bob"),
		},
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestStore_InsertGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	rec, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.Payload[memory.KeyData] != "likes tea" || rec.Payload[memory.KeyUserID] != "alice" {
		t.Fatalf("get = %+v", rec)
	}
	if rec.Score != nil {
		t.Error("get should not carry a score")
	}

	missing, err := s.Get(ctx, "zzz")
	if err != nil || missing != nil {
		t.Errorf("get missing = %+v, %v; want nil, nil", missing, err)
	}
	if s.Count() != 4 {
		t.Errorf("count = %d, want 4", s.Count())
	}
}

func TestStore_InsertValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.Insert(context.Background(), [][]float32{{1, 0}}, []string{"x"}, []memory.Payload{payload("x", "u")})
	if resilience.KindOf(err) != resilience.KindValidation {
		t.Errorf("dimension mismatch err = %v, want validation", err)
	}
	err = s.Insert(context.Background(), [][]float32{{1, 0, 0}}, []string{"x", "y"}, nil)
	if resilience.KindOf(err) != resilience.KindValidation {
		t.Errorf("length mismatch err = %v, want validation", err)
	}
}

func TestStore_SearchRanksAndFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	got, err := s.Search(ctx, "tea", []float32{1, 0, 0}, 2, memory.Filters{memory.KeyUserID: "alice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("order = %s, %s; want a, b", got[0].ID, got[1].ID)
	}
	if got[0].Score == nil || *got[0].Score < *got[1].Score {
		t.Errorf("scores not descending: %v, %v", got[0].Score, got[1].Score)
	}

	// A limit larger than the collection is capped.
	bob, err := s.Search(ctx, "cat", []float32{0, 0, 1}, 50, memory.Filters{memory.KeyUserID: "bob"})
	if err != nil {
		t.Fatalf("search bob: %v", err)
	}
	if len(bob) != 1 || bob[0].ID != "d" {
		t.Errorf("bob = %+v", bob)
	}
}

func TestStore_SearchEmpty(t *testing.T) {
	t.Parallel()

	got, err := newTestStore(t).Search(context.Background(), "q", []float32{1, 0, 0}, 5, nil)
	if err != nil || got != nil {
		t.Errorf("search empty = %+v, %v", got, err)
	}
}

func TestStore_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	all, err := s.List(ctx, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("list all = %d, want 4", len(all))
	}
	for _, r := range all {
		if r.Score != nil {
			t.Errorf("list record %s carries a score", r.ID)
		}
	}

	alice, err := s.List(ctx, memory.Filters{memory.KeyUserID: "alice"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alice) != 3 {
		t.Errorf("list alice = %d, want 3", len(alice))
	}

	limited, err := s.List(ctx, nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("list limited = %d, want 2", len(limited))
	}
}

func TestStore_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	// A nil vector keeps the stored embedding.
	if err := s.Update(ctx, "a", nil, payload("likes black tea", "alice")); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, _ := s.Get(ctx, "a")
	if rec.Payload[memory.KeyData] != "likes black tea" {
		t.Errorf("payload not replaced: %+v", rec.Payload)
	}
	got, err := s.Search(ctx, "", []float32{1, 0, 0}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ID != "a" {
		t.Errorf("embedding lost on update: top = %s", got[0].ID)
	}

	if err := s.Update(ctx, "a", []float32{0, 0, 1}, payload("moved", "alice")); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Search(ctx, "", []float32{0, 0, 1}, 4, memory.Filters{memory.KeyUserID: "alice"})
	if got[0].ID != "a" {
		t.Errorf("embedding not replaced: top = %s", got[0].ID)
	}

	if err := s.Update(ctx, "nope", nil, payload("x", "u")); resilience.KindOf(err) != resilience.KindNotFound {
		t.Errorf("update missing err = %v, want not found", err)
	}
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec, _ := s.Get(ctx, "a"); rec != nil {
		t.Error("record still present")
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestStore_SearchDuringDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	const n = 40
	for i := range n {
		id := fmt.Sprintf("m%d", i)
		if err := s.Insert(ctx, [][]float32{{1, float32(i), 0}}, []string{id}, []memory.Payload{payload(id, "alice")}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range n {
			if err := s.Delete(ctx, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("delete: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 4 * n {
			if _, err := s.Search(ctx, "", []float32{1, 0, 0}, 0, nil); err != nil {
				t.Errorf("search: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	if s.Count() != 0 {
		t.Errorf("count = %d, want 0", s.Count())
	}
}

func TestStore_DeleteCollection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	if err := s.DeleteCollection(ctx); err != nil {
		t.Fatalf("delete collection: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("count = %d, want 0", s.Count())
	}
	// The store stays usable.
	seed(t, s)
	if s.Count() != 4 {
		t.Errorf("count after reseed = %d", s.Count())
	}
}

func TestModule_PersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	load := func() *Module {
		m := &Module{config: Config{Dimensions: 3}}
		ctx := core.NewAppContext(slog.Default(), dir)
		if err := m.Provision(ctx); err != nil {
			t.Fatalf("provision: %v", err)
		}
		if err := m.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if _, err := core.Service[memory.VectorStore](ctx, core.ServiceVectorStore); err != nil {
			t.Fatalf("service: %v", err)
		}
		return m
	}

	m := load()
	if m.config.Path != filepath.Join(dir, defaultDir) {
		t.Errorf("path = %q", m.config.Path)
	}
	seed(t, m.store)

	again := load()
	if again.store.Count() != 4 {
		t.Errorf("count after reopen = %d, want 4", again.store.Count())
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	f := false
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"in memory", Config{Persist: &f, Dimensions: 8}, false},
		{"persistent with path", Config{Path: "/tmp/v", Dimensions: 8}, false},
		{"persistent without path", Config{Dimensions: 8}, true},
		{"bad dimensions", Config{Persist: &f, Dimensions: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			cfg.defaults()
			if err := cfg.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
