package hook

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// testHook is a minimal Hook for unit tests.
type testHook struct {
	pos         Position
	priority    int
	executeFunc func(ctx context.Context, hctx *Context) error
}

func (h *testHook) Position() Position { return h.pos }
func (h *testHook) Priority() int      { return h.priority }
func (h *testHook) Execute(ctx context.Context, hctx *Context) error {
	if h.executeFunc != nil {
		return h.executeFunc(ctx, hctx)
	}
	return nil
}

func testContext() *Context {
	return &Context{
		Operation: "ADD",
		Metadata:  make(map[string]any),
		Logger:    slog.Default(),
	}
}

func TestPipeline_Register_SortsByPriority(t *testing.T) {
	t.Parallel()

	p := NewPipeline()

	var order []int
	makeHook := func(prio int) *testHook {
		return &testHook{
			pos:      PreOperation,
			priority: prio,
			executeFunc: func(_ context.Context, _ *Context) error {
				order = append(order, prio)
				return nil
			},
		}
	}

	p.Register(makeHook(10))
	p.Register(makeHook(1))
	p.Register(makeHook(5))

	p.Run(context.Background(), PreOperation, testContext())

	if len(order) != 3 {
		t.Fatalf("expected 3 hooks to run, got %d", len(order))
	}
	if order[0] != 1 || order[1] != 5 || order[2] != 10 {
		t.Errorf("execution order = %v, want [1 5 10]", order)
	}
}

func TestPipeline_Register_StableOrderForSamePriority(t *testing.T) {
	t.Parallel()

	p := NewPipeline()

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		p.Register(&testHook{
			pos: PostOperation,
			executeFunc: func(_ context.Context, _ *Context) error {
				order = append(order, name)
				return nil
			},
		})
	}

	p.Run(context.Background(), PostOperation, testContext())

	if strings.Join(order, "") != "abc" {
		t.Errorf("execution order = %v, want registration order", order)
	}
}

func TestPipeline_Run_OnlyMatchingPosition(t *testing.T) {
	t.Parallel()

	p := NewPipeline()
	ran := map[Position]int{}
	for _, pos := range []Position{PreOperation, PostOperation, Rollback} {
		p.Register(&testHook{pos: pos, executeFunc: func(_ context.Context, hctx *Context) error {
			ran[hctx.Position]++
			return nil
		}})
	}

	p.Run(context.Background(), Rollback, testContext())

	if ran[Rollback] != 1 || ran[PreOperation] != 0 || ran[PostOperation] != 0 {
		t.Errorf("ran = %v, want rollback only", ran)
	}
}

func TestPipeline_Run_ErrorsAndPanicsDoNotStop(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	hctx := testContext()
	hctx.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	p := NewPipeline()
	p.Register(&testHook{pos: PreOperation, priority: 1, executeFunc: func(context.Context, *Context) error {
		return errors.New("boom")
	}})
	p.Register(&testHook{pos: PreOperation, priority: 2, executeFunc: func(context.Context, *Context) error {
		panic("hook bug")
	}})
	reached := false
	p.Register(&testHook{pos: PreOperation, priority: 3, executeFunc: func(context.Context, *Context) error {
		reached = true
		return nil
	}})

	p.Run(context.Background(), PreOperation, hctx)

	if !reached {
		t.Error("last hook did not run")
	}
	out := logs.String()
	if !strings.Contains(out, "boom") || !strings.Contains(out, "hook bug") {
		t.Errorf("logs missing hook failures:\n%s", out)
	}
}

func TestPipeline_Run_SharesMetadata(t *testing.T) {
	t.Parallel()

	p := NewPipeline()
	p.Register(&testHook{pos: PreOperation, executeFunc: func(_ context.Context, hctx *Context) error {
		hctx.Metadata["trace"] = "abc"
		return nil
	}})
	var seen any
	p.Register(&testHook{pos: PostOperation, executeFunc: func(_ context.Context, hctx *Context) error {
		seen = hctx.Metadata["trace"]
		return nil
	}})

	hctx := testContext()
	p.Run(context.Background(), PreOperation, hctx)
	p.Run(context.Background(), PostOperation, hctx)

	if seen != "abc" {
		t.Errorf("metadata = %v, want abc", seen)
	}
}

func TestPipeline_NilIsNoop(t *testing.T) {
	t.Parallel()

	var p *Pipeline
	p.Run(context.Background(), PreOperation, testContext())
}
