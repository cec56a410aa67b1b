package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/reset"
	"github.com/flemzord/memsync/internal/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

const testToken = "admin-token"

// fakeResetter records reset calls.
type fakeResetter struct {
	mu    sync.Mutex
	calls []reset.Options
	fail  bool
}

func (f *fakeResetter) Summary(_ context.Context, opts reset.Options) reset.Summary {
	return reset.Summary{Scope: opts.Scope, PreserveFilters: opts.PreserveFilters}
}

func (f *fakeResetter) Reset(_ context.Context, opts reset.Options) *reset.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return &reset.Report{Scope: opts.Scope, DryRun: opts.DryRun, Success: !f.fail}
}

func newTestGateway(t *testing.T, deps Deps) (*Gateway, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	deps.Registry = reg
	deps.Gatherer = reg
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := New(Config{BearerToken: testToken}, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, reg
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth_AllClosed(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker("vector", resilience.BreakerConfig{})
	g, _ := newTestGateway(t, Deps{Breakers: []*resilience.CircuitBreaker{b}})

	rr := do(t, g.Handler(), http.MethodGet, "/health", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || len(resp.Breakers) != 1 || resp.Breakers[0].State != resilience.StateClosed {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealth_OpenBreakerDegrades(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker("graph", resilience.BreakerConfig{FailureThreshold: 1})
	_ = b.Call(context.Background(), func(context.Context) error {
		return resilience.Tag(resilience.KindConnection, errors.New("refused"))
	})
	g, _ := newTestGateway(t, Deps{Breakers: []*resilience.CircuitBreaker{b}})

	rr := do(t, g.Handler(), http.MethodGet, "/health", "", false)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"state":"OPEN"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestMetrics_ExposesRequestCounter(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, Deps{})
	h := g.Handler()
	do(t, h, http.MethodGet, "/health", "", false)

	rr := do(t, h, http.MethodGet, "/metrics", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `memsync_gateway_requests_total{code="200",route="/health"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", rr.Body.String())
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, Deps{Resetter: &fakeResetter{}})
	h := g.Handler()

	if rr := do(t, h, http.MethodGet, "/status", "", false); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/status", "", true); rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
}

func TestAdmin_NotMountedWithoutToken(t *testing.T) {
	t.Parallel()

	g, err := New(Config{}, Deps{Registry: prometheus.NewRegistry(), Resetter: &fakeResetter{}})
	if err != nil {
		t.Fatal(err)
	}
	if rr := do(t, g.Handler(), http.MethodGet, "/status", "", true); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestStatus_ReportsUptimeAndStores(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, Deps{Resetter: &fakeResetter{}})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.startedAt = start
	g.now = func() time.Time { return start.Add(90 * time.Second) }

	rr := do(t, g.Handler(), http.MethodGet, "/status", "", true)
	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Uptime != 90 {
		t.Errorf("uptime = %v", resp.Uptime)
	}
	if resp.Stores == nil || resp.Stores.Scope != reset.ScopeAll {
		t.Errorf("stores = %+v", resp.Stores)
	}
}

func TestResetSummary_QueryBecomesPreserve(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, Deps{Resetter: &fakeResetter{}})
	rr := do(t, g.Handler(), http.MethodGet, "/api/reset/summary?scope=VECTOR_ONLY&user_id=alice", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var s reset.Summary
	if err := json.NewDecoder(rr.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Scope != reset.ScopeVectorOnly || s.PreserveFilters[memory.KeyUserID] != "alice" {
		t.Errorf("summary = %+v", s)
	}

	if rr := do(t, g.Handler(), http.MethodGet, "/api/reset/summary?scope=NOPE", "", true); rr.Code != http.StatusBadRequest {
		t.Errorf("bad scope: status = %d", rr.Code)
	}
}

func TestReset_RequiresForceOrDryRun(t *testing.T) {
	t.Parallel()

	fr := &fakeResetter{}
	g, _ := newTestGateway(t, Deps{Resetter: fr})
	h := g.Handler()

	if rr := do(t, h, http.MethodPost, "/api/reset", `{"scope":"ALL"}`, true); rr.Code != http.StatusBadRequest {
		t.Errorf("unforced: status = %d, want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/reset", `{"scope":"ALL","dry_run":true}`, true); rr.Code != http.StatusOK {
		t.Errorf("dry run: status = %d", rr.Code)
	}
	rr := do(t, h, http.MethodPost, "/api/reset", `{"scope":"HISTORY_ONLY","force":true,"preserve":{"agent_id":"a1"}}`, true)
	if rr.Code != http.StatusOK {
		t.Errorf("forced: status = %d", rr.Code)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.calls) != 2 {
		t.Fatalf("reset calls = %d, want 2", len(fr.calls))
	}
	last := fr.calls[1]
	if last.Scope != reset.ScopeHistoryOnly || !last.Force || last.PreserveFilters[memory.KeyAgentID] != "a1" {
		t.Errorf("last call = %+v", last)
	}
}

func TestReset_RejectsUnsupportedPreserveKey(t *testing.T) {
	t.Parallel()

	fr := &fakeResetter{}
	g, _ := newTestGateway(t, Deps{Resetter: fr})
	h := g.Handler()

	rr := do(t, h, http.MethodPost, "/api/reset", `{"scope":"ALL","force":true,"preserve":{"role":"user"}}`, true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("reset: status = %d, want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/reset/summary?scope=ALL&role=user", "", true); rr.Code != http.StatusBadRequest {
		t.Errorf("summary: status = %d, want 400", rr.Code)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.calls) != 0 {
		t.Errorf("reset calls = %d, want 0", len(fr.calls))
	}
}

func TestReset_FailureIs500(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, Deps{Resetter: &fakeResetter{fail: true}})
	rr := do(t, g.Handler(), http.MethodPost, "/api/reset", `{"scope":"ALL","force":true}`, true)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestNew_InvalidBind(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Bind: "not an address"}, Deps{}); err == nil {
		t.Fatal("expected error for invalid bind")
	}
}

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	g, err := New(Config{Bind: "127.0.0.1:0"}, Deps{Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := g.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
