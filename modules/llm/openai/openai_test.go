package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
	"github.com/flemzord/memsync/internal/security"
)

// fakeAPI records the last chat request and answers with canned payloads.
type fakeAPI struct {
	mu     sync.Mutex
	status int
	chat   map[string]any
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			writeError(w, f.status)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		f.mu.Lock()
		f.chat = req
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": `{"facts": ["likes tea"]}`},
				"finish_reason": "stop",
			}},
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, _ *http.Request) {
		if f.status != 0 {
			writeError(w, f.status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  defaultEmbeddingModel,
			"data": []map[string]any{{
				"object":    "embedding",
				"index":     0,
				"embedding": []float32{0.25, 0.5, 0.75},
			}},
		})
	})
	return mux
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": http.StatusText(status), "type": "test_error"},
	})
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
}

func TestClient_GenerateResponseJSON(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	c := newTestClient(t, api)

	got, err := c.GenerateResponse(context.Background(), []memory.Message{
		{Role: "system", Content: "extract"},
		{Role: "user", Content: "I like tea", Name: "alice"},
	}, memory.FormatJSON)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != `{"facts": ["likes tea"]}` {
		t.Errorf("content = %q", got)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.chat["model"] != defaultModel {
		t.Errorf("model = %v", api.chat["model"])
	}
	rf, _ := api.chat["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", api.chat["response_format"])
	}
	msgs, _ := api.chat["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", api.chat["messages"])
	}
	if m := msgs[1].(map[string]any); m["name"] != "alice" || m["role"] != "user" {
		t.Errorf("user message = %v", m)
	}
}

func TestClient_GenerateResponseText(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	c := newTestClient(t, api)

	if _, err := c.GenerateResponse(context.Background(), []memory.Message{{Role: "user", Content: "hi"}}, memory.FormatText); err != nil {
		t.Fatal(err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if _, ok := api.chat["response_format"]; ok {
		t.Errorf("text format should not send response_format, got %v", api.chat["response_format"])
	}
}

func TestClient_Embed(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, &fakeAPI{})

	vec, err := c.Embed(context.Background(), "likes tea", memory.PurposeAdd)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.5 {
		t.Errorf("vector = %v", vec)
	}
}

func TestClient_ErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   resilience.Kind
	}{
		{http.StatusBadRequest, resilience.KindValidation},
		{http.StatusUnauthorized, resilience.KindPermission},
		{http.StatusNotFound, resilience.KindNotFound},
		{http.StatusTooManyRequests, resilience.KindTimeout},
		{http.StatusBadGateway, resilience.KindConnection},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, &fakeAPI{status: tt.status})

			_, err := c.GenerateResponse(context.Background(), []memory.Message{{Role: "user", Content: "x"}}, memory.FormatText)
			if got := resilience.KindOf(err); got != tt.want {
				t.Errorf("chat kind = %s, want %s (err %v)", got, tt.want, err)
			}
			_, err = c.Embed(context.Background(), "x", memory.PurposeSearch)
			if got := resilience.KindOf(err); got != tt.want {
				t.Errorf("embed kind = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ok", Config{APIKey: "k"}, ""},
		{"keyless local endpoint", Config{BaseURL: "http://localhost:11434/v1"}, ""},
		{"missing key", Config{}, "api_key"},
		{"bad timeout", Config{APIKey: "k", Timeout: "soon"}, "timeout"},
		{"negative timeout", Config{APIKey: "k", Timeout: "-1s"}, "timeout"},
		{"negative dimensions", Config{APIKey: "k", Dimensions: -3}, "dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestModule_ProvisionRegistersServices(t *testing.T) {
	t.Parallel()

	ctx := core.NewAppContext(slog.Default(), t.TempDir())
	redactor := security.NewRedactor()
	if err := ctx.RegisterService(security.ServiceName, redactor); err != nil {
		t.Fatal(err)
	}

	m := &Module{config: Config{APIKey: "my-plain-key-123"}}
	if err := m.Provision(ctx); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := core.Service[memory.LLM](ctx, core.ServiceLLM); err != nil {
		t.Errorf("llm service: %v", err)
	}
	if _, err := core.Service[memory.Embedder](ctx, core.ServiceEmbedder); err != nil {
		t.Errorf("embedder service: %v", err)
	}
	if got := redactor.Redact("key=my-plain-key-123"); strings.Contains(got, "my-plain-key-123") {
		t.Errorf("api key not redacted: %q", got)
	}
}
