// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"

	"github.com/flemzord/memsync/internal/cron"
	"github.com/flemzord/memsync/internal/reset"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockResetter is a test double for cron.Resetter.
type MockResetter struct {
	ResetFunc func(ctx context.Context, opts reset.Options) *reset.Report

	mu    sync.Mutex
	Calls []reset.Options
}

var _ cron.Resetter = (*MockResetter)(nil)

// Reset implements cron.Resetter. Without ResetFunc it reports success.
func (m *MockResetter) Reset(ctx context.Context, opts reset.Options) *reset.Report {
	m.mu.Lock()
	m.Calls = append(m.Calls, opts)
	m.mu.Unlock()

	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, opts)
	}
	return &reset.Report{Scope: opts.Scope, Success: true}
}

// CallCount returns the number of Reset calls.
func (m *MockResetter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
