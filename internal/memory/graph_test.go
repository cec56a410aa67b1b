package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/memory/memorytest"
)

func TestGraphOps_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	g := memory.NewGraphOps(nil)
	ctx := context.Background()

	if g.Enabled() {
		t.Fatal("nil store should disable the facade")
	}
	res, err := g.Add(ctx, []memory.Message{{Role: "user", Content: "x"}}, nil)
	if err != nil || len(res.AddedEntities) != 0 {
		t.Errorf("Add = %+v, %v", res, err)
	}
	if rels, err := g.Search(ctx, "x", nil, 10); err != nil || rels != nil {
		t.Errorf("Search = %v, %v", rels, err)
	}
	if err := g.DeleteAll(ctx, nil); err != nil {
		t.Errorf("DeleteAll = %v", err)
	}
	f, err := g.GetAllAsync(ctx, nil, 10)
	if err != nil {
		t.Fatalf("GetAllAsync: %v", err)
	}
	if rels, err := f.Wait(ctx); err != nil || rels != nil {
		t.Errorf("GetAllAsync = %v, %v", rels, err)
	}
}

func TestGraphOps_DefaultUserAndSystemFilter(t *testing.T) {
	t.Parallel()

	store := memorytest.NewGraphStore()
	g := memory.NewGraphOps(store)
	ctx := context.Background()

	res, err := g.Add(ctx, []memory.Message{
		{Role: "system", Content: "ignore me"},
		{Role: "user", Content: "Alice knows Bob"},
		{Role: "assistant", Content: "Bob works at Acme"},
	}, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(res.AddedEntities) != 2 {
		t.Fatalf("added = %+v", res.AddedEntities)
	}
	if res.AddedEntities[0].Source != memory.DefaultGraphUser {
		t.Errorf("source = %q, want default user", res.AddedEntities[0].Source)
	}
	texts := store.Texts()
	if len(texts) != 1 || texts[0] != "Alice knows Bob\nBob works at Acme" {
		t.Errorf("texts = %q", texts)
	}

	rels, _ := g.GetAll(ctx, memory.Filters{memory.KeyUserID: memory.DefaultGraphUser}, 0)
	if len(rels) != 2 {
		t.Errorf("GetAll = %d, want 2", len(rels))
	}
}

type blockingGraph struct {
	*memorytest.GraphStore
	inFlight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
}

func (b *blockingGraph) Search(ctx context.Context, q string, f memory.Filters, limit int) ([]memory.Relation, error) {
	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-b.release
	b.inFlight.Add(-1)
	return b.GraphStore.Search(ctx, q, f, limit)
}

func TestGraphOps_AsyncBoundedByWorkers(t *testing.T) {
	t.Parallel()

	store := &blockingGraph{GraphStore: memorytest.NewGraphStore(), release: make(chan struct{})}
	g := memory.NewGraphOps(store, memory.WithGraphWorkers(2))
	ctx := context.Background()

	var wg sync.WaitGroup
	futures := make(chan *memory.Future[[]memory.Relation], 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := g.SearchAsync(ctx, "q", nil, 1)
			if err != nil {
				t.Errorf("SearchAsync: %v", err)
				return
			}
			futures <- f
		}()
	}

	deadline := time.After(2 * time.Second)
	for store.inFlight.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("workers never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(store.release)
	wg.Wait()
	close(futures)

	for f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Errorf("Wait: %v", err)
		}
	}
	if peak := store.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestGraphOps_SubmitHonorsContext(t *testing.T) {
	t.Parallel()

	store := &blockingGraph{GraphStore: memorytest.NewGraphStore(), release: make(chan struct{})}
	defer close(store.release)
	g := memory.NewGraphOps(store, memory.WithGraphWorkers(1))

	if _, err := g.SearchAsync(context.Background(), "q", nil, 1); err != nil {
		t.Fatalf("first SearchAsync: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.SearchAsync(ctx, "q", nil, 1); err == nil {
		t.Error("second SearchAsync should fail while the only worker is busy")
	}
}

func TestCachedEmbedder(t *testing.T) {
	t.Parallel()

	inner := &memorytest.Embedder{}
	c, err := memory.NewCachedEmbedder(inner, 100)
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	first, _ := c.Embed(ctx, "hello", memory.PurposeAdd)
	c.Wait()
	second, _ := c.Embed(ctx, "hello", memory.PurposeAdd)
	if inner.Calls("Embed") != 1 {
		t.Errorf("inner calls = %d, want 1", inner.Calls("Embed"))
	}
	if len(first) != len(second) || first[0] != second[0] {
		t.Error("cached vector differs")
	}

	_, _ = c.Embed(ctx, "hello", memory.PurposeSearch)
	if inner.Calls("Embed") != 2 {
		t.Errorf("purpose should be part of the key; inner calls = %d", inner.Calls("Embed"))
	}
}
