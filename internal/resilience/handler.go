// Package resilience implements retry with exponential backoff, circuit
// breaking, and the structured results every store call is reported through.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/flemzord/memsync/internal/resilience"

// RetryConfig controls the retry loop of a Handler.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means a single attempt.
	MaxRetries int

	// BaseDelay is the backoff before the first retry. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 30s.
	MaxDelay time.Duration

	// ExponentialBase multiplies the delay per attempt. Default: 2.
	ExponentialBase float64

	// Jitter scales each delay by a uniform factor in [0.5, 1.0].
	Jitter bool

	// RetryableKinds lists the kinds worth retrying. CRITICAL kinds are never
	// retried even when listed. Default: connection, timeout, unknown.
	RetryableKinds []Kind

	// AttemptTimeout bounds each attempt. Default: 30s.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the configuration used when none is supplied.
func DefaultRetryConfig() RetryConfig {
	cfg := RetryConfig{MaxRetries: 3, Jitter: true}
	cfg.defaults()
	return cfg
}

func (c *RetryConfig) defaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.ExponentialBase < 1 {
		c.ExponentialBase = 2
	}
	if len(c.RetryableKinds) == 0 {
		c.RetryableKinds = []Kind{KindConnection, KindTimeout, KindUnknown}
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
}

// Delay returns min(BaseDelay * ExponentialBase^attempt, MaxDelay), without
// jitter.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt))
	if d > float64(c.MaxDelay) || math.IsInf(d, 1) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Operation is a unit of work executed by a Handler.
type Operation func(ctx context.Context) (any, error)

// discardHandler drops all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

// Handler runs operations with retry, backoff and an optional breaker.
// It is safe for concurrent use.
type Handler struct {
	cfg       RetryConfig
	retryable map[Kind]bool
	breaker   *CircuitBreaker
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
	now   func() time.Time
}

// HandlerOption configures optional Handler behavior.
type HandlerOption func(*Handler)

// WithLogger injects a structured logger. Nil discards output.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics records attempts and retries in m.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithSleeper replaces the backoff sleep. Intended for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) HandlerOption {
	return func(h *Handler) { h.sleep = fn }
}

// WithRand replaces the jitter source, which must return values in [0, 1).
func WithRand(fn func() float64) HandlerOption {
	return func(h *Handler) { h.rand = fn }
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) HandlerOption {
	return func(h *Handler) { h.tracer = t }
}

// NewHandler creates a Handler. Zero-valued config fields take defaults.
func NewHandler(cfg RetryConfig, opts ...HandlerOption) *Handler {
	cfg.defaults()
	h := &Handler{
		cfg:       cfg,
		retryable: make(map[Kind]bool, len(cfg.RetryableKinds)),
		sleep:     sleepContext,
		rand:      rand.Float64,
		now:       time.Now,
	}
	for _, k := range cfg.RetryableKinds {
		h.retryable[k] = true
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(discardHandler{})
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	return h
}

// Config returns the effective retry configuration.
func (h *Handler) Config() RetryConfig { return h.cfg }

// Protect returns a copy of h whose attempts go through b.
func (h *Handler) Protect(b *CircuitBreaker) *Handler {
	cp := *h
	cp.breaker = b
	return &cp
}

// WithoutRetry returns a copy of h that makes exactly one attempt.
func (h *Handler) WithoutRetry() *Handler {
	cp := *h
	cp.cfg.MaxRetries = 0
	return &cp
}

// Breaker returns the breaker bound by Protect, or nil.
func (h *Handler) Breaker() *CircuitBreaker { return h.breaker }

// delay returns the backoff for attempt, with jitter when enabled.
func (h *Handler) delay(attempt int) time.Duration {
	d := h.cfg.Delay(attempt)
	if h.cfg.Jitter {
		d = time.Duration(float64(d) * (0.5 + h.rand()*0.5))
	}
	return d
}

// Execute runs op until it succeeds, fails terminally, or exhausts
// MaxRetries. It never returns a nil Result and never panics on behalf of op.
func (h *Handler) Execute(ctx context.Context, name string, op Operation, callerCtx map[string]any) *Result {
	start := h.now()
	ctx, span := h.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("memsync.operation", name),
	))
	defer span.End()

	res := &Result{Metadata: map[string]any{"operation_name": name}}
	maxAttempts := h.cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		data, err := h.attempt(ctx, op)
		res.RetryCount = attempt
		if err == nil {
			res.Status = StatusSuccess
			res.Success = true
			res.Data = data
			if attempt > 0 {
				res.AddWarning(fmt.Sprintf("%s succeeded after %d retries", name, attempt))
			}
			h.metrics.attempt(name, "success")
			break
		}

		detail := NewErrorDetail(err, h.now(), detailContext(attempt, maxAttempts, name, callerCtx))
		res.AddError(detail)
		res.Success = false
		h.metrics.attempt(name, "failure")

		if errors.Is(err, ErrCircuitOpen) {
			res.Status = StatusCircuitOpen
			h.logger.Warn("operation rejected by open circuit",
				"operation", name,
				"error", err,
			)
			break
		}

		if attempt == maxAttempts-1 || detail.Severity == SeverityCritical || !h.retryable[detail.Kind] {
			res.Status = StatusFailure
			h.logger.Error("operation failed",
				"operation", name,
				"attempt", attempt,
				"kind", detail.Kind,
				"severity", detail.Severity,
				"error", err,
			)
			break
		}

		res.Status = StatusRetrying
		wait := h.delay(attempt)
		h.metrics.retry(name, detail.Kind)
		h.logger.Warn("operation failed, retrying",
			"operation", name,
			"attempt", attempt,
			"kind", detail.Kind,
			"backoff", wait,
			"error", err,
		)
		if err := h.sleep(ctx, wait); err != nil {
			res.AddError(NewErrorDetail(
				Tag(KindTimeout, fmt.Errorf("%s: backoff interrupted: %w", name, err)),
				h.now(),
				detailContext(attempt, maxAttempts, name, callerCtx),
			))
			res.Status = StatusFailure
			break
		}
	}

	res.ExecutionTime = h.now().Sub(start)
	h.metrics.observe(name, res.Status, res.ExecutionTime)
	span.SetAttributes(
		attribute.String("memsync.status", string(res.Status)),
		attribute.Int("memsync.retry_count", res.RetryCount),
	)
	if !res.Success {
		if d, ok := res.LastError(); ok {
			span.SetStatus(codes.Error, d.Message)
		}
	}
	return res
}

// ExecuteAsync runs Execute on its own goroutine. The channel receives
// exactly one Result and is then closed.
func (h *Handler) ExecuteAsync(ctx context.Context, name string, op Operation, callerCtx map[string]any) <-chan *Result {
	out := make(chan *Result, 1)
	go func() {
		defer close(out)
		out <- h.Execute(ctx, name, op, callerCtx)
	}()
	return out
}

// attempt runs op once under the attempt timeout and the breaker, turning
// panics into KindInternal errors.
func (h *Handler) attempt(ctx context.Context, op Operation) (data any, err error) {
	actx, cancel := context.WithTimeout(ctx, h.cfg.AttemptTimeout)
	defer cancel()

	call := func(c context.Context) (callErr error) {
		defer func() {
			if r := recover(); r != nil {
				callErr = Tagf(KindInternal, "panic: %v", r)
			}
		}()
		data, callErr = op(c)
		return callErr
	}

	if h.breaker != nil {
		err = h.breaker.Call(actx, call)
	} else {
		err = call(actx)
	}
	return data, err
}

func detailContext(attempt, maxAttempts int, name string, callerCtx map[string]any) map[string]any {
	m := make(map[string]any, len(callerCtx)+3)
	for k, v := range callerCtx {
		m[k] = v
	}
	m["attempt"] = attempt
	m["max_attempts"] = maxAttempts
	m["operation_name"] = name
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
