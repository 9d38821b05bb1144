// Package maintenance runs scheduled upkeep jobs for the registry.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vibebiz/premium/internal/models"
)

// DefaultSchedule runs the retention job daily at 03:00 UTC.
const DefaultSchedule = "0 3 * * *"

// RetentionStore removes old usage entries and audits the run.
type RetentionStore interface {
	PurgeUsageBefore(ctx context.Context, cutoff time.Time) (*models.RetentionRun, error)
}

// RetentionRecorder receives the number of purged entries.
type RetentionRecorder interface {
	RecordRetention(deleted int64)
}

// RetentionScheduler periodically deletes usage log entries older than the
// retention window.
type RetentionScheduler struct {
	store         RetentionStore
	recorder      RetentionRecorder
	retentionDays int
	schedule      string
	cron          *cron.Cron
	now           func() time.Time
	logger        zerolog.Logger
	mu            sync.Mutex
	running       bool
}

// NewRetentionScheduler creates a retention scheduler. retentionDays must be
// positive; callers skip scheduling entirely when retention is disabled.
func NewRetentionScheduler(store RetentionStore, retentionDays int, logger zerolog.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		store:         store,
		retentionDays: retentionDays,
		schedule:      DefaultSchedule,
		cron:          cron.New(cron.WithLocation(time.UTC)),
		now:           time.Now,
		logger:        logger.With().Str("component", "retention").Logger(),
	}
}

// SetRecorder attaches a metrics recorder.
func (s *RetentionScheduler) SetRecorder(r RetentionRecorder) {
	s.recorder = r
}

// Start begins the daily schedule.
func (s *RetentionScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("retention scheduler already running")
	}
	if s.retentionDays <= 0 {
		return errors.New("retention window must be positive")
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunNow(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("usage log retention failed")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("retention_days", s.retentionDays).
		Str("schedule", s.schedule).
		Msg("retention scheduler started")
	return nil
}

// Stop stops the scheduler. The returned context is done once a running job finishes.
func (s *RetentionScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping retention scheduler")
	return s.cron.Stop()
}

// Cutoff returns the oldest timestamp kept at the given time.
func (s *RetentionScheduler) Cutoff(at time.Time) time.Time {
	return at.UTC().AddDate(0, 0, -s.retentionDays)
}

// RunNow purges entries older than the window and returns the audit record.
func (s *RetentionScheduler) RunNow(ctx context.Context) (*models.RetentionRun, error) {
	cutoff := s.Cutoff(s.now())

	s.logger.Info().Time("cutoff", cutoff).Msg("starting usage log retention")

	run, err := s.store.PurgeUsageBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.RecordRetention(run.DeletedRows)
	}

	s.logger.Info().
		Int64("deleted_rows", run.DeletedRows).
		Time("cutoff", cutoff).
		Msg("usage log retention completed")
	return run, nil
}
