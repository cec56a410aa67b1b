package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("MEMSYNC_TEST_KEY", "sk-test")
	path := writeConfig(t, `
version: "1"
modules:
  llm.openai:
    api_key: ${MEMSYNC_TEST_KEY}
    model: ${MEMSYNC_TEST_MODEL:-gpt-4o-mini}
memory:
  single_store: true
resilience:
  base_delay: 100ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	node := cfg.Modules["llm.openai"]
	var llm struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	}
	if err := node.Decode(&llm); err != nil {
		t.Fatal(err)
	}
	if llm.APIKey != "sk-test" || llm.Model != "gpt-4o-mini" {
		t.Errorf("llm = %+v", llm)
	}
	if !cfg.Memory.SingleStore {
		t.Error("memory.single_store not parsed")
	}
	if cfg.Resilience.BaseDelay != "100ms" {
		t.Errorf("base_delay = %q", cfg.Resilience.BaseDelay)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	path := writeConfig(t, "version: \"1\"\ndata_dir: ${MEMSYNC_TEST_UNSET_DIR}\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unresolved variable")
	}
	if !strings.Contains(err.Error(), "MEMSYNC_TEST_UNSET_DIR") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestLoad_ReportsEachUnresolvedVariableOnce(t *testing.T) {
	path := writeConfig(t, `version: "1"
data_dir: ${MEMSYNC_TEST_UNSET_B}
gateway:
  bind: ${MEMSYNC_TEST_UNSET_A}
  bearer_token: ${MEMSYNC_TEST_UNSET_B}
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unresolved variables")
	}
	if !strings.Contains(err.Error(), "MEMSYNC_TEST_UNSET_A, MEMSYNC_TEST_UNSET_B") {
		t.Errorf("variables should be listed once, sorted: %v", err)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "version: \"1\"\nresilence:\n  max_retries: 2\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for a misspelled section")
	}
	if !strings.Contains(err.Error(), "resilence") {
		t.Errorf("error should name the key: %v", err)
	}
}

func TestLoad_ModuleBlocksStayRaw(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "version: \"1\"\nmodules:\n  vector.chromem:\n    anything_goes: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("module keys are decoded by the module, not the loader: %v", err)
	}
	if _, ok := cfg.Modules["vector.chromem"]; !ok {
		t.Error("module block missing")
	}
}

func TestLoad_Empty(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, "# nothing here\n"))
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{Reset: ResetConfig{Jobs: []ResetJob{{Name: "a", Schedule: "@daily"}}}}
	cfg.ApplyDefaults()
	if cfg.Memory.SearchCandidates != 5 || cfg.Memory.GraphWorkers != 8 {
		t.Errorf("memory defaults = %+v", cfg.Memory)
	}
	if cfg.Gateway.Bind != "127.0.0.1:9464" {
		t.Errorf("gateway.bind = %q", cfg.Gateway.Bind)
	}
	if cfg.Reset.Jobs[0].Scope != "ALL" {
		t.Errorf("job scope = %q", cfg.Reset.Jobs[0].Scope)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
}

func TestResolve_LoadOrder(t *testing.T) {
	t.Parallel()
	cfg := &Config{Modules: map[string]yaml.Node{
		"graph.sqlite":   {},
		"vector.chromem": {},
		"custom.thing":   {},
		"history.sqlite": {},
		"llm.openai":     {},
	}}
	got := Resolve(cfg)
	want := []string{"llm.openai", "vector.chromem", "history.sqlite", "graph.sqlite", "custom.thing"}
	if !slices.Equal(got, want) {
		t.Errorf("Resolve = %v, want %v", got, want)
	}
}
