package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/memsync/internal/config"
	"github.com/flemzord/memsync/internal/consistency"
	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/hook"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/reset"
	"github.com/flemzord/memsync/internal/resilience"
)

func init() {
	core.RegisterModule(&fakeEmbedderModule{})
}

// fakeEmbedderModule registers a deterministic three-dimension embedder so
// the runtime can be built without network access.
type fakeEmbedderModule struct{}

func (fakeEmbedderModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "llm.fake",
		New: func() core.Module { return &fakeEmbedderModule{} },
	}
}

func (fakeEmbedderModule) Provision(ctx *core.AppContext) error {
	return ctx.RegisterService(core.ServiceEmbedder, memory.Embedder(fakeEmbedder{}))
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string, _ memory.Purpose) ([]float32, error) {
	return []float32{float32(len(text)%7) + 1, 1, float32(strings.Count(text, " ")) + 1}, nil
}

const testConfig = `version: "1"
modules:
  llm.fake: {}
  vector.chromem:
    persist: false
    dimensions: 3
  history.sqlite: {}
memory:
  audit_file: audit.jsonl
  embedding_cache: 100
resilience:
  max_retries: 1
  base_delay: 1ms
  jitter: false
log:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestBuild_WiresStores(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	var logs bytes.Buffer

	rt, err := Build(ctx, RunParams{
		ConfigPath: writeConfig(t, testConfig),
		DataDir:    dataDir,
		Stderr:     &logs,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	if !rt.Sync.SingleStore() {
		t.Error("no graph module is configured, sync should be single-store")
	}
	if rt.GraphBreaker != nil {
		t.Error("graph breaker built without a graph store")
	}
	if got := len(rt.Breakers()); got != 1 {
		t.Errorf("breakers = %d, want 1", got)
	}

	res := rt.Sync.SynchronizedOperation(ctx, consistency.OpAdd, consistency.Payload{
		Messages: []memory.Message{
			{Role: "system", Content: "be nice"},
			{Role: "user", Content: "I like tea"},
		},
	}, memory.Filters{memory.KeyUserID: "alice"})
	if !res.Success {
		t.Fatalf("add failed: %+v", res.Errors)
	}
	if len(res.Events) != 1 {
		t.Fatalf("events = %+v, want one ADD", res.Events)
	}

	history, err := rt.Vector.History(ctx, res.Events[0].ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Event != memory.EventAdd {
		t.Errorf("history = %+v", history)
	}

	sum := rt.Reset.Summary(ctx, reset.Options{Scope: reset.ScopeAll})
	for _, c := range sum.Components {
		if c.Component == reset.ComponentVector && c.Count != "1" {
			t.Errorf("vector count = %s, want 1", c.Count)
		}
	}

	rep := rt.Reset.Reset(ctx, reset.Options{Scope: reset.ScopeVectorAndHistory, Force: true})
	if !rep.Success {
		t.Fatalf("reset failed: %+v", rep.Errors)
	}
	items, err := rt.Vector.GetAll(ctx, memory.Filters{memory.KeyUserID: "alice"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("items after reset = %d", len(items))
	}

	rt.Close()
	assertAudit(t, filepath.Join(dataDir, "audit.jsonl"), []string{"ADD", "RESET_VECTOR_AND_HISTORY"})
	if !strings.Contains(logs.String(), "sqlite history provisioned") {
		t.Errorf("module logs missing from %q", logs.String())
	}
}

func assertAudit(t *testing.T, path string, wantOps []string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	defer func() { _ = f.Close() }()

	var ops []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec hook.AuditRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("audit line %q: %v", sc.Text(), err)
		}
		ops = append(ops, rec.Operation)
	}
	if strings.Join(ops, ",") != strings.Join(wantOps, ",") {
		t.Errorf("audit operations = %v, want %v", ops, wantOps)
	}
}

func TestBuild_MissingVectorModule(t *testing.T) {
	cfg := `version: "1"
modules:
  llm.fake: {}
  history.sqlite: {}
`
	_, err := Build(context.Background(), RunParams{
		ConfigPath: writeConfig(t, cfg),
		DataDir:    t.TempDir(),
		Stderr:     &bytes.Buffer{},
	})
	if err == nil || !strings.Contains(err.Error(), "vector module is required") {
		t.Fatalf("err = %v, want missing vector module", err)
	}
}

func TestBuild_RedactsAPIKeyInLogs(t *testing.T) {
	var logs bytes.Buffer
	rt, err := Build(context.Background(), RunParams{
		ConfigPath: writeConfig(t, testConfig),
		DataDir:    t.TempDir(),
		Stderr:     &logs,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	rt.Redactor.AddLiteral("super-secret-value")
	rt.Logger.Info("calling api", "key", "super-secret-value")
	if strings.Contains(logs.String(), "super-secret-value") {
		t.Error("secret leaked into logs")
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	cfg := testConfig + "gateway:\n  bind: 127.0.0.1:0\nreset:\n  jobs:\n    - name: nightly\n      schedule: \"@daily\"\n      scope: HISTORY_ONLY\n"
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Run(ctx, RunParams{
		ConfigPath: writeConfig(t, cfg),
		DataDir:    t.TempDir(),
		Stderr:     &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	cfg, path, err := LoadConfig(RunParams{
		ConfigPath: writeConfig(t, testConfig),
		DataDir:    "/srv/memsync",
		LogLevel:   "warn",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if path == "" {
		t.Error("config path not returned")
	}
	if cfg.DataDir != "/srv/memsync" || cfg.Log.Level != "warn" {
		t.Errorf("overrides not applied: data_dir=%q level=%q", cfg.DataDir, cfg.Log.Level)
	}
	if cfg.Memory.SearchCandidates != 5 {
		t.Errorf("defaults not applied: %+v", cfg.Memory)
	}
}

func TestResilienceConfig(t *testing.T) {
	t.Parallel()

	three := 3
	off := false
	retry, breaker, err := resilienceConfig(config.ResilienceConfig{
		MaxRetries:       &three,
		BaseDelay:        "10ms",
		Jitter:           &off,
		RetryableKinds:   []string{"timeout"},
		FailureThreshold: 2,
		ResetTimeout:     "1s",
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if retry.MaxRetries != 3 || retry.BaseDelay != 10*time.Millisecond || retry.Jitter {
		t.Errorf("retry = %+v", retry)
	}
	if len(retry.RetryableKinds) != 1 || retry.RetryableKinds[0] != resilience.KindTimeout {
		t.Errorf("kinds = %v", retry.RetryableKinds)
	}
	if breaker.FailureThreshold != 2 || breaker.ResetTimeout != time.Second {
		t.Errorf("breaker = %+v", breaker)
	}

	if _, _, err := resilienceConfig(config.ResilienceConfig{RetryableKinds: []string{"bogus"}}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "memsync")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgPath := filepath.Join(cfgDir, "memsync.yaml")
	if err := os.WriteFile(cfgPath, []byte("version: \"1\""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	t.Chdir(t.TempDir())

	if _, err := ResolveConfigPath(); err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestDefaultDataDir_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DefaultDataDir(), "/custom/data/memsync"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
