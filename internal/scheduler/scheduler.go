// Package scheduler triggers pipeline runs on a fixed interval or cron expression.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Config selects when runs fire.
type Config struct {
	// Interval between runs. Ignored when Cron is set.
	Interval time.Duration
	// Cron is a five-field expression, or six fields with leading seconds.
	Cron string
	// RunOnStart fires one run as soon as the scheduler starts.
	RunOnStart bool
	// Location for cron expressions. Nil means UTC.
	Location *time.Location
}

// Task is one scheduled unit of work.
type Task func(ctx context.Context)

// Scheduler fires a Task on schedule, never overlapping two executions.
type Scheduler struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Scheduler.
func New(cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Cron == "" && cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler needs a positive interval or a cron expression")
	}
	if err := ValidateCron(cfg.Cron); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, logger: logger}, nil
}

// Start schedules task and blocks until ctx is done, then stops the scheduler.
func (s *Scheduler) Start(ctx context.Context, task Task) error {
	sched := gocron.NewScheduler(s.cfg.Location)
	sched.SingletonModeAll()

	job := func() {
		s.logger.Info("scheduled run triggered")
		task(ctx)
	}

	if err := register(sched, s.cfg, job); err != nil {
		return err
	}

	sched.StartAsync()
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.String("cron", s.cfg.Cron),
		zap.Bool("run_on_start", s.cfg.RunOnStart),
	)
	if s.cfg.RunOnStart {
		sched.RunAll()
	}

	<-ctx.Done()
	sched.Stop()
	s.logger.Info("scheduler stopped")
	return nil
}

// ValidateCron reports whether expr would be accepted by Start. Empty is valid.
func ValidateCron(expr string) error {
	if expr == "" {
		return nil
	}
	return register(gocron.NewScheduler(time.UTC), Config{Cron: expr}, func() {})
}

func register(sched *gocron.Scheduler, cfg Config, job func()) error {
	var err error
	switch {
	case cfg.Cron != "" && len(strings.Fields(cfg.Cron)) == 6:
		_, err = sched.CronWithSeconds(cfg.Cron).Do(job)
	case cfg.Cron != "":
		_, err = sched.Cron(cfg.Cron).Do(job)
	default:
		_, err = sched.Every(cfg.Interval).WaitForSchedule().Do(job)
	}
	if err != nil {
		return fmt.Errorf("schedule pipeline run: %w", err)
	}
	return nil
}
