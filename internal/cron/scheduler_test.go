package cron

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewScheduler_RejectsInvalidSpec(t *testing.T) {
	_, err := NewScheduler(Config{Spec: "not a cron line", Job: func(context.Context) {}})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestNewScheduler_AcceptsDescriptor(t *testing.T) {
	s, err := NewScheduler(Config{Spec: "@hourly", Job: func(context.Context) {}, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if s.NextRun().IsZero() {
		t.Fatal("expected next run to be scheduled")
	}
	if s.NextRun().After(time.Now().Add(time.Hour + time.Minute)) {
		t.Fatalf("next run too far out: %v", s.NextRun())
	}
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := NextRunTime("0 * * * *", after)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestScheduler_FiresWhenDue(t *testing.T) {
	var fired atomic.Int64
	s, err := NewScheduler(Config{
		Spec:     "* * * * *",
		Job:      func(context.Context) { fired.Add(1) },
		Logger:   discardLogger(),
		Interval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	// Force the schedule to be immediately due.
	s.mu.Lock()
	s.nextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// nextRun advanced past now.
	if !s.NextRun().After(time.Now().Add(-time.Second)) {
		t.Fatalf("next run not advanced: %v", s.NextRun())
	}
}

func TestScheduler_StopTerminatesLoop(t *testing.T) {
	s, err := NewScheduler(Config{
		Spec:     "* * * * *",
		Job:      func(context.Context) {},
		Logger:   discardLogger(),
		Interval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
