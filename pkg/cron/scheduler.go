// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StaleSessionCanceller cancels import sessions left idle too long.
type StaleSessionCanceller interface {
	CancelStaleSessions(ctx context.Context, olderThan time.Duration) (int, error)
}

// Pruner drops idle rate limiter buckets.
type Pruner interface {
	Prune(idle time.Duration) int
}

// Config controls the sweep jobs.
type Config struct {
	Schedule        string
	StaleSessionTTL time.Duration
	LimiterIdleTime time.Duration
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	sessions StaleSessionCanceller
	limiter  Pruner // Optional
	cfg      Config
	logger   *slog.Logger
}

// NewScheduler creates a new job scheduler.
func NewScheduler(sessions StaleSessionCanceller, cfg Config, logger *slog.Logger) *Scheduler {
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// WithRateLimiter also prunes idle limiter buckets on every sweep.
func (s *Scheduler) WithRateLimiter(p Pruner) *Scheduler {
	s.limiter = p
	return s
}

// Start registers the sweep job and starts the scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("schedule", s.cfg.Schedule),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a sweep synchronously (tests and admin use).
func (s *Scheduler) RunNow() {
	s.sweep()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cancelled, err := s.sessions.CancelStaleSessions(ctx, s.cfg.StaleSessionTTL)
	if err != nil {
		s.logger.Error("failed to cancel stale import sessions", slog.Any("error", err))
	}

	pruned := 0
	if s.limiter != nil && s.cfg.LimiterIdleTime > 0 {
		pruned = s.limiter.Prune(s.cfg.LimiterIdleTime)
	}

	s.logger.Debug("sweep completed",
		slog.Int("sessions_cancelled", cancelled),
		slog.Int("limiters_pruned", pruned),
	)
}
