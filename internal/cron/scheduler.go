// Package cron provides a periodic scheduler that runs a job on a cron
// expression, used for the hourly classification resweep.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow) plus descriptors like @hourly.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Spec     string                    // cron expression, e.g. "@hourly" or "0 * * * *"
	Job      func(ctx context.Context) // fired when the schedule is due
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler fires a single job whenever its cron schedule comes due.
type Scheduler struct {
	spec     string
	schedule cronlib.Schedule
	job      func(ctx context.Context)
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	nextRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config. The cron
// expression is validated up front.
func NewScheduler(cfg Config) (*Scheduler, error) {
	schedule, err := cronParser.Parse(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cfg.Spec, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		spec:     cfg.Spec,
		schedule: schedule,
		job:      cfg.Job,
		logger:   logger,
		interval: interval,
		nextRun:  schedule.Next(time.Now()),
	}, nil
}

// NextRun returns the next time the job is due.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "spec", s.spec, "next_run", s.NextRun())
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

// loop ticks at the configured interval and fires the job when due.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires the job if the schedule has come due and advances nextRun.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := !now.Before(s.nextRun)
	if due {
		s.nextRun = s.schedule.Next(now)
	}
	next := s.nextRun
	s.mu.Unlock()

	if !due {
		return
	}

	s.logger.Info("cron: schedule fired", "spec", s.spec, "next_run", next)
	s.job(ctx)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
