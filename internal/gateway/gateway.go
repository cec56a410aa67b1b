// Package gateway serves memsync's operational HTTP endpoint: breaker health,
// prometheus metrics and, behind a bearer token, status and reset routes.
// It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/reset"
	"github.com/flemzord/memsync/internal/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string
	BearerToken     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:9464"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// A full reset can take a while.
		c.WriteTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Resetter is the reset surface exposed on the admin routes.
type Resetter interface {
	Summary(ctx context.Context, opts reset.Options) reset.Summary
	Reset(ctx context.Context, opts reset.Options) *reset.Report
}

// Deps are the runtime components the gateway reports on.
type Deps struct {
	Breakers []*resilience.CircuitBreaker
	Gatherer prometheus.Gatherer
	Registry prometheus.Registerer
	Resetter Resetter
	Logger   *slog.Logger
}

// Gateway is the HTTP server. It implements core.Module, core.Starter and
// core.Stopper so it can be appended to the App lifecycle.
type Gateway struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	metrics   *requestMetrics
	server    *http.Server
	startedAt time.Time
	now       func() time.Time
}

var (
	_ core.Starter = (*Gateway)(nil)
	_ core.Stopper = (*Gateway)(nil)
)

// New validates cfg and creates a Gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	cfg.defaults()
	if _, err := net.ResolveTCPAddr("tcp", cfg.Bind); err != nil {
		return nil, fmt.Errorf("gateway: invalid bind address %q: %w", cfg.Bind, err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	m, err := newRequestMetrics(deps.Registry)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		config:  cfg,
		deps:    deps,
		logger:  deps.Logger,
		metrics: m,
		now:     time.Now,
	}, nil
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "runtime.gateway"}
}

// Handler returns the routed handler. Exposed for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Start implements core.Starter.
func (g *Gateway) Start() error {
	g.startedAt = g.now()
	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
