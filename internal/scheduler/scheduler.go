package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bonus-planner-api/internal/features"
	"bonus-planner-api/internal/models"
)

// Jobs is the work the scheduler triggers.
type Jobs interface {
	ProcessPending(ctx context.Context) (int, error)
	Backup(ctx context.Context) (models.BackupResponse, error)
}

// Scheduler runs the periodic maintenance tasks.
type Scheduler struct {
	Cron     *cron.Cron
	jobs     Jobs
	features *features.Manager
	logger   *zap.Logger
	ctx      context.Context
}

// NewScheduler creates a scheduler whose cron specs include a seconds field.
// Overlapping runs of the same job are skipped.
func NewScheduler(ctx context.Context, jobs Jobs, flags *features.Manager, logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:     jobs,
		features: flags,
		logger:   logger,
		ctx:      ctx,
	}
}

// RegisterAll registers the pending sweep and backup jobs. An empty spec
// leaves that job out.
func (s *Scheduler) RegisterAll(pendingSweepCron, backupCron string) error {
	if pendingSweepCron != "" {
		if _, err := s.Cron.AddFunc(pendingSweepCron, s.pendingSweep); err != nil {
			return fmt.Errorf("register pending sweep: %w", err)
		}
	}
	if backupCron != "" {
		if _, err := s.Cron.AddFunc(backupCron, s.backup); err != nil {
			return fmt.Errorf("register backup: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) pendingSweep() {
	n, err := s.jobs.ProcessPending(s.ctx)
	if err != nil {
		s.logger.Error("pending sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pending sweep finished", zap.Int("offers", n))
	}
}

func (s *Scheduler) backup() {
	if !s.features.IsEnabled(features.ScheduledBackups) {
		return
	}
	resp, err := s.jobs.Backup(s.ctx)
	if err != nil {
		s.logger.Error("scheduled backup failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled backup written", zap.String("file", resp.BackupFile))
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
