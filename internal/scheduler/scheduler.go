/**
 * @description
 * Cron scheduler setup for the reclamation jobs.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultExpireUnpaidSchedule   = "* * * * *"
	DefaultDailyOccupancySchedule = "1 0 * * *"
)

// Schedules holds the cron expressions of the jobs.
type Schedules struct {
	ExpireUnpaid   string
	DailyOccupancy string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler instance. Schedules are evaluated in loc so the
// daily job fires just after midnight of the business day.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if schedules.ExpireUnpaid == "" {
		schedules.ExpireUnpaid = DefaultExpireUnpaidSchedule
	}
	if schedules.DailyOccupancy == "" {
		schedules.DailyOccupancy = DefaultDailyOccupancySchedule
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedules.ExpireUnpaid, func() { s.jobs.runExpireUnpaidOrders(s.ctx) }); err != nil {
		s.logger.Error("failed to schedule unpaid order sweep", "error", err)
		return err
	}
	s.logger.Info("scheduled unpaid order sweep", "schedule", s.schedules.ExpireUnpaid)

	if _, err := s.cron.AddFunc(s.schedules.DailyOccupancy, func() { s.jobs.runReconcileDailyOccupancy(s.ctx) }); err != nil {
		s.logger.Error("failed to schedule daily occupancy job", "error", err)
		return err
	}
	s.logger.Info("scheduled daily occupancy job", "schedule", s.schedules.DailyOccupancy)

	s.cron.Start()
	return nil
}

// Stop cancels running sweeps and returns a context that is done once they have returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}
