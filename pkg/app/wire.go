package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/memsync/internal/config"
	"github.com/flemzord/memsync/internal/consistency"
	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/hook"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/reset"
	"github.com/flemzord/memsync/internal/resilience"
	"github.com/flemzord/memsync/internal/security"
	"github.com/flemzord/memsync/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Runtime is a fully wired memsync instance. Close releases everything
// Build acquired.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Redactor *security.Redactor
	App      *core.App
	Registry *prometheus.Registry

	Handler       *resilience.Handler
	VectorBreaker *resilience.CircuitBreaker
	GraphBreaker  *resilience.CircuitBreaker

	Vector *memory.VectorOps
	Graph  *memory.GraphOps
	Sync   *consistency.Manager
	Reset  *reset.Manager

	closers []func()
}

// Build loads the configuration, provisions every configured module and
// wires the memory, consistency and reset layers. Modules are provisioned but
// not started.
func Build(ctx context.Context, params RunParams) (*Runtime, error) {
	cfg, _, err := LoadConfig(params)
	if err != nil {
		return nil, err
	}

	stderr := params.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	level, err := security.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	redactor := security.NewRedactor()
	logger := security.NewLogger(stderr, level, cfg.Log.Format, redactor)

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Redactor: redactor,
		Registry: prometheus.NewRegistry(),
	}
	if err := rt.build(ctx, params); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, params RunParams) error {
	cfg := rt.Config

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: params.Version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	rt.onClose(func() {
		if err := shutdown(context.Background()); err != nil {
			rt.Logger.Warn("telemetry shutdown failed", "error", err)
		}
	})

	appCtx := core.NewAppContext(rt.Logger, cfg.DataDir).WithModuleConfigs(cfg.Modules)
	if err := appCtx.RegisterService(security.ServiceName, rt.Redactor); err != nil {
		return err
	}

	rt.App = core.NewApp(appCtx)
	rt.onClose(func() { _ = rt.App.Close() }) // stop errors are logged by the App
	if err := rt.App.LoadModules(config.Resolve(cfg)); err != nil {
		return err
	}

	return rt.wireMemory(appCtx)
}

// wireMemory builds the resilience layer and the operation facades over the
// services registered by the loaded modules.
func (rt *Runtime) wireMemory(appCtx *core.AppContext) error {
	cfg := rt.Config

	vectorStore, err := core.Service[memory.VectorStore](appCtx, core.ServiceVectorStore)
	if err != nil {
		return fmt.Errorf("app: a vector module is required: %w", err)
	}
	embedder, err := core.Service[memory.Embedder](appCtx, core.ServiceEmbedder)
	if err != nil {
		return fmt.Errorf("app: an embedder module is required: %w", err)
	}
	history, err := core.Service[memory.HistoryLog](appCtx, core.ServiceHistoryLog)
	if err != nil {
		return fmt.Errorf("app: a history module is required: %w", err)
	}
	// Optional: inference and the graph layer need them.
	llm, _ := core.Service[memory.LLM](appCtx, core.ServiceLLM)
	graphStore, _ := core.Service[memory.GraphStore](appCtx, core.ServiceGraphStore)

	if err := rt.Registry.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("app: registering go collector: %w", err)
	}
	metrics, err := resilience.NewMetrics(rt.Registry)
	if err != nil {
		return err
	}

	retry, breaker, err := resilienceConfig(cfg.Resilience)
	if err != nil {
		return err
	}
	rt.Handler = resilience.NewHandler(retry,
		resilience.WithLogger(rt.Logger.With("component", "resilience")),
		resilience.WithMetrics(metrics),
	)
	onChange := resilience.WithStateChange(func(name string, from, to resilience.CircuitState) {
		metrics.CircuitState(name, from, to)
		rt.Logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	rt.VectorBreaker = resilience.NewCircuitBreaker("vector", breaker, onChange)
	if graphStore != nil && !cfg.Memory.SingleStore {
		rt.GraphBreaker = resilience.NewCircuitBreaker("graph", breaker, onChange)
	}

	if cfg.Memory.EmbeddingCache > 0 {
		cached, err := memory.NewCachedEmbedder(embedder, cfg.Memory.EmbeddingCache)
		if err != nil {
			return err
		}
		rt.onClose(cached.Close)
		embedder = cached
	}

	rt.Vector = memory.NewVectorOps(vectorStore, embedder, llm, history,
		memory.WithVectorLogger(rt.Logger.With("component", "vector")),
		memory.WithSearchCandidates(cfg.Memory.SearchCandidates),
	)
	if cfg.Memory.SingleStore {
		graphStore = nil
	}
	rt.Graph = memory.NewGraphOps(graphStore,
		memory.WithGraphWorkers(cfg.Memory.GraphWorkers),
		memory.WithGraphLogger(rt.Logger.With("component", "graph")),
	)

	hooks, err := rt.hooks()
	if err != nil {
		return err
	}

	rt.Sync = consistency.NewManager(rt.Vector, rt.Graph, consistency.Options{
		Handler:       rt.Handler,
		VectorBreaker: rt.VectorBreaker,
		GraphBreaker:  rt.GraphBreaker,
		SingleStore:   cfg.Memory.SingleStore,
		Hooks:         hooks,
		Logger:        rt.Logger.With("component", "sync"),
	})
	rt.Reset = reset.NewManager(vectorStore, graphStore, history, reset.Config{
		Handler:       rt.Handler,
		VectorBreaker: rt.VectorBreaker,
		GraphBreaker:  rt.GraphBreaker,
		SingleStore:   cfg.Memory.SingleStore,
		Hooks:         hooks,
		Logger:        rt.Logger.With("component", "reset"),
	})
	return nil
}

// hooks builds the observer pipeline: a log hook at every position and, when
// configured, the JSONL audit file.
func (rt *Runtime) hooks() (*hook.Pipeline, error) {
	p := hook.NewPipeline()
	positions := []hook.Position{hook.PreOperation, hook.PostOperation, hook.Rollback}
	for _, pos := range positions {
		p.Register(&hook.LogHook{Pos: pos, Logger: rt.Logger.With("component", "hook")})
	}

	path := rt.Config.Memory.AuditFile
	if path == "" {
		return p, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(rt.Config.DataDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("app: creating audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("app: opening audit file: %w", err)
	}
	rt.onClose(func() { _ = f.Close() })

	audit := hook.NewAuditLog(f)
	for _, pos := range positions[1:] {
		p.Register(audit.Hook(pos))
	}
	return p, nil
}

// Breakers returns the circuit breakers in use.
func (rt *Runtime) Breakers() []*resilience.CircuitBreaker {
	var out []*resilience.CircuitBreaker
	for _, b := range []*resilience.CircuitBreaker{rt.VectorBreaker, rt.GraphBreaker} {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Close stops the modules and releases the resources Build acquired, in
// reverse order. It is safe to call more than once.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) onClose(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// resilienceConfig converts the YAML section to handler and breaker settings.
func resilienceConfig(c config.ResilienceConfig) (resilience.RetryConfig, resilience.BreakerConfig, error) {
	base, maxDelay, attempt, resetTimeout, err := c.Durations()
	if err != nil {
		return resilience.RetryConfig{}, resilience.BreakerConfig{}, err
	}

	retry := resilience.DefaultRetryConfig()
	if c.MaxRetries != nil {
		retry.MaxRetries = *c.MaxRetries
	}
	if c.Jitter != nil {
		retry.Jitter = *c.Jitter
	}
	if base > 0 {
		retry.BaseDelay = base
	}
	if maxDelay > 0 {
		retry.MaxDelay = maxDelay
	}
	if attempt > 0 {
		retry.AttemptTimeout = attempt
	}
	if c.ExponentialBase >= 1 {
		retry.ExponentialBase = c.ExponentialBase
	}
	if len(c.RetryableKinds) > 0 {
		kinds := make([]resilience.Kind, 0, len(c.RetryableKinds))
		var errs []error
		for _, s := range c.RetryableKinds {
			k, err := resilience.ParseKind(s)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			kinds = append(kinds, k)
		}
		if err := errors.Join(errs...); err != nil {
			return resilience.RetryConfig{}, resilience.BreakerConfig{}, err
		}
		retry.RetryableKinds = kinds
	}

	return retry, resilience.BreakerConfig{
		FailureThreshold: c.FailureThreshold,
		ResetTimeout:     resetTimeout,
	}, nil
}
