package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"agrivest/internal/ledger"
)

// Jobs is the slice of the ledger service the scheduler drives.
type Jobs interface {
	RunDailyAccrual(ctx context.Context, asOf time.Time) (ledger.AccrualSummary, error)
	SweepCascadeTasks(ctx context.Context, limit int) (ledger.SweepSummary, error)
}

// Scheduler fires the daily accrual and the cascade sweep on cron specs
// evaluated in the platform timezone. Overlapping runs of the same job are
// skipped rather than queued.
type Scheduler struct {
	Cron       *cron.Cron
	jobs       Jobs
	log        *slog.Logger
	ctx        context.Context
	sweepLimit int
}

func New(ctx context.Context, jobs Jobs, logger *slog.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: logger}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:       jobs,
		log:        logger,
		ctx:        ctx,
		sweepLimit: ledger.DefaultSweepLimit,
	}
}

// RegisterAll adds the accrual and sweep jobs. An empty sweep spec disables
// the sweep.
func (s *Scheduler) RegisterAll(accrualCron, sweepCron string) error {
	if _, err := s.Cron.AddFunc(accrualCron, s.RunAccrualNow); err != nil {
		return fmt.Errorf("register accrual job: %w", err)
	}
	if sweepCron == "" {
		return nil
	}
	if _, err := s.Cron.AddFunc(sweepCron, s.RunSweepNow); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.Cron.Entries()))
}

// Stop stops firing new jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) RunAccrualNow() {
	if s.ctx.Err() != nil {
		return
	}
	summary, err := s.jobs.RunDailyAccrual(s.ctx, time.Time{})
	if err != nil {
		s.log.Error("scheduled accrual failed", "err", err)
		return
	}
	s.log.Info("scheduled accrual complete",
		"as_of", summary.AsOf.Format(time.DateOnly),
		"accrued", summary.Accrued,
		"matured", summary.Matured,
		"failed", summary.Failed,
	)
}

func (s *Scheduler) RunSweepNow() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.jobs.SweepCascadeTasks(s.ctx, s.sweepLimit); err != nil {
		s.log.Error("cascade sweep failed", "err", err)
	}
}

// cronLogger routes cron's own messages into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
