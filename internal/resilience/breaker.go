package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreaker.Call when the call is rejected
// without invoking the wrapped function.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// CircuitState is the breaker's availability state.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the upper-case state label.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CircuitState) UnmarshalText(b []byte) error {
	for c := StateClosed; c <= StateHalfOpen; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("resilience: unknown circuit state %q", b)
}

// BreakerConfig controls when a breaker opens and how long it stays open.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a trial call is
	// allowed. Default: 60s.
	ResetTimeout time.Duration
}

func (c *BreakerConfig) defaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
}

// BreakerStatus is a read-only snapshot of a breaker.
type BreakerStatus struct {
	Name             string        `json:"name"`
	State            CircuitState  `json:"state"`
	Failures         int           `json:"failures"`
	LastFailure      time.Time     `json:"last_failure,omitzero"`
	FailureThreshold int           `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout_ns"`
}

// CircuitBreaker stops invoking a persistently failing dependency for a
// cooldown window. All state is guarded by mu; a single instance may be
// shared by any number of callers.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	// onStateChange is called outside the lock on every transition.
	onStateChange func(name string, from, to CircuitState)

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	trial       bool // a HALF_OPEN trial call is in flight

	now func() time.Time
}

// BreakerOption configures optional CircuitBreaker behavior.
type BreakerOption func(*CircuitBreaker)

// WithStateChange registers a transition callback.
func WithStateChange(fn func(name string, from, to CircuitState)) BreakerOption {
	return func(b *CircuitBreaker) { b.onStateChange = fn }
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) { b.now = now }
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	cfg.defaults()
	b := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's name.
func (b *CircuitBreaker) Name() string { return b.name }

// Call invokes fn unless the circuit is open. While OPEN and the reset
// timeout has not elapsed, or while another caller holds the HALF_OPEN trial,
// Call returns ErrCircuitOpen without invoking fn.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	if callErr == nil || !countsAgainst(callErr) {
		b.onSuccess(trial)
		return callErr
	}
	b.onFailure(trial)
	return callErr
}

// countsAgainst reports whether err reflects the dependency's health. Caller
// errors (validation, not-found, ...) mean the dependency answered.
func countsAgainst(err error) bool {
	return SeverityOf(KindOf(err)) < SeverityHigh
}

// acquire decides whether a call may proceed and whether it is the trial.
func (b *CircuitBreaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	var from CircuitState
	transitioned := false

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return false, nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) <= b.cfg.ResetTimeout {
			b.mu.Unlock()
			return false, b.rejection()
		}
		from, transitioned = b.state, true
		b.state = StateHalfOpen
		b.trial = true
	case StateHalfOpen:
		if b.trial {
			b.mu.Unlock()
			return false, b.rejection()
		}
		b.trial = true
	}
	b.mu.Unlock()

	if transitioned {
		b.notify(from, StateHalfOpen)
	}
	return true, nil
}

func (b *CircuitBreaker) rejection() error {
	return Tag(KindCircuitOpen, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name))
}

func (b *CircuitBreaker) onSuccess(trial bool) {
	b.mu.Lock()
	prev := b.state
	b.failures = 0
	if trial {
		b.trial = false
		b.state = StateClosed
	}
	next := b.state
	b.mu.Unlock()

	if prev != next {
		b.notify(prev, next)
	}
}

func (b *CircuitBreaker) onFailure(trial bool) {
	b.mu.Lock()
	prev := b.state
	b.failures++
	b.lastFailure = b.now()
	switch {
	case trial:
		b.trial = false
		b.state = StateOpen
	case b.state == StateClosed && b.failures >= b.cfg.FailureThreshold:
		b.state = StateOpen
	}
	next := b.state
	b.mu.Unlock()

	if prev != next {
		b.notify(prev, next)
	}
}

func (b *CircuitBreaker) notify(from, to CircuitState) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// Status returns a snapshot of the breaker's state.
func (b *CircuitBreaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{
		Name:             b.name,
		State:            b.state,
		Failures:         b.failures,
		LastFailure:      b.lastFailure,
		FailureThreshold: b.cfg.FailureThreshold,
		ResetTimeout:     b.cfg.ResetTimeout,
	}
}
