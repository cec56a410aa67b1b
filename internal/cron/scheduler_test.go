package cron_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/flemzord/memsync/internal/cron"
	"github.com/flemzord/memsync/internal/cron/crontest"
)

func TestScheduler_RegisterJob_DuplicateName(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(slog.Default())
	if err := s.RegisterJob(&crontest.MockJob{NameVal: "test", ScheduleVal: "* * * * *"}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := s.RegisterJob(&crontest.MockJob{NameVal: "test", ScheduleVal: "@daily"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestScheduler_RegisterJob_InvalidSchedule(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(nil)
	if err := s.RegisterJob(&crontest.MockJob{NameVal: "bad", ScheduleVal: "invalid"}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if len(s.Jobs()) != 0 {
		t.Errorf("jobs = %v, want none", s.Jobs())
	}
}

func TestScheduler_JobsInOrder(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(nil)
	for _, n := range []string{"b", "a", "c"} {
		if err := s.RegisterJob(&crontest.MockJob{NameVal: n, ScheduleVal: "@hourly"}); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.Jobs(); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("Jobs = %v", got)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(slog.Default())
	_ = s.RegisterJob(&crontest.MockJob{NameVal: "noop", ScheduleVal: "* * * * *"})

	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(slog.Default())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	job := &crontest.MockJob{NameVal: "once", ScheduleVal: "@yearly"}
	s := cron.NewScheduler(nil)
	_ = s.RegisterJob(job)

	if err := s.RunNow(context.Background(), "once"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if job.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", job.CallCount())
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestScheduler_RunNowReturnsJobError(t *testing.T) {
	t.Parallel()

	boom := errors.New("job failed")
	s := cron.NewScheduler(nil)
	_ = s.RegisterJob(&crontest.MockJob{
		NameVal:     "failing",
		ScheduleVal: "@daily",
		RunFunc:     func(context.Context) error { return boom },
	})
	if err := s.RunNow(context.Background(), "failing"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	job := &crontest.MockJob{
		NameVal:     "slow",
		ScheduleVal: "@daily",
		RunFunc: func(context.Context) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		},
	}
	s := cron.NewScheduler(nil)
	_ = s.RegisterJob(job)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, cron.ErrJobRunning) {
		t.Errorf("overlapping run err = %v, want ErrJobRunning", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if job.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", job.CallCount())
	}
}
