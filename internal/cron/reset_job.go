package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/memsync/internal/reset"
)

// Resetter is the part of reset.Manager a ResetJob needs.
type Resetter interface {
	Reset(ctx context.Context, opts reset.Options) *reset.Report
}

// ResetJob runs a scoped reset on a schedule. Scheduled resets are
// unattended, so they always run with Force.
type ResetJob struct {
	JobName      string
	ScheduleExpr string
	Options      reset.Options
	Resetter     Resetter
	Logger       *slog.Logger
}

var _ Job = (*ResetJob)(nil)

// Name implements Job.
func (j *ResetJob) Name() string { return "reset:" + j.JobName }

// Schedule implements Job.
func (j *ResetJob) Schedule() string { return j.ScheduleExpr }

// Run executes the reset and returns the joined component errors, if any.
func (j *ResetJob) Run(ctx context.Context) error {
	opts := j.Options
	opts.Force = true
	rep := j.Resetter.Reset(ctx, opts)

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("cron: scheduled reset finished",
		"job", j.JobName,
		"scope", rep.Scope,
		"success", rep.Success,
		"removed", rep.Removed,
	)
	for _, w := range rep.Warnings {
		logger.Warn("cron: scheduled reset warning", "job", j.JobName, "warning", w)
	}
	if rep.Success {
		return nil
	}
	errs := make([]error, 0, len(rep.Errors))
	for _, e := range rep.Errors {
		errs = append(errs, fmt.Errorf("%s: %s", e.Kind, e.Message))
	}
	return fmt.Errorf("cron: reset %q failed: %w", j.JobName, errors.Join(errs...))
}
