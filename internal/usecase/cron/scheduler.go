package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/bnema/snapkeep/internal/boundaries/out"
	"github.com/bnema/snapkeep/internal/domain"
)

// DefaultTickInterval is how often due schedules are checked.
const DefaultTickInterval = 30 * time.Second

// Runner starts jobs for due schedules.
type Runner interface {
	RunSchedule(ctx context.Context, scheduleID string, trigger domain.JobTrigger) (*domain.BackupJob, error)
	// RecoverStale fails jobs left running by a crashed process.
	RecoverStale(ctx context.Context) (int, error)
}

// Scheduler fires due backup schedules. Due-ness lives in the status store,
// so several scheduler instances never fire the same occurrence twice.
type Scheduler struct {
	store    out.StatusStore
	runner   Runner
	clock    clock.Clock
	interval time.Duration
	loc      *time.Location
	log      zerolog.Logger

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithTickInterval sets the polling interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLocation sets the timezone for schedules that do not name one.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewScheduler creates a scheduler instance.
func NewScheduler(store out.StatusStore, runner Runner, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		runner:   runner,
		clock:    clock.New(),
		interval: DefaultTickInterval,
		loc:      time.UTC,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve runs the scheduler loop until ctx is cancelled, then waits for
// in-flight jobs. It implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	if _, err := s.runner.RecoverStale(ctx); err != nil {
		s.log.Warn().Err(err).Msg("stale job recovery failed")
	}
	s.Tick(ctx)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Wait()
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.runner.RecoverStale(ctx); err != nil {
				s.log.Warn().Err(err).Msg("stale job recovery failed")
			}
			s.Tick(ctx)
		}
	}
}

// String names the service in supervisor events.
func (s *Scheduler) String() string {
	return "scheduler"
}

// Tick fires every enabled schedule whose next run has passed and returns
// how many jobs it started.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list schedules")
		return 0
	}

	started := 0
	for _, sc := range schedules {
		if !sc.Due(now) {
			continue
		}
		fired, err := s.fire(ctx, sc, now)
		if err != nil {
			s.log.Warn().Err(err).Str("schedule_id", sc.ID).Msg("failed to fire schedule")
			continue
		}
		if fired {
			started++
		}
	}
	return started
}

// Wait blocks until every job started by Tick has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) fire(ctx context.Context, sc domain.BackupSchedule, now time.Time) (bool, error) {
	next, err := NextRun(sc.Cron, sc.Timezone, now, s.loc)
	if err != nil {
		return false, err
	}
	// Advancing first means a missed tick or a restart never fires the
	// same occurrence twice.
	won, err := s.store.AdvanceNextRun(ctx, sc.ID, sc.NextRun, next, now.UTC())
	if err != nil {
		return false, err
	}
	if !won {
		s.log.Debug().Str("schedule_id", sc.ID).Msg("next run already advanced elsewhere")
		return false, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("schedule_id", sc.ID).Str("panic", fmt.Sprint(r)).Msg("scheduled job panicked")
			}
		}()

		job, err := s.runner.RunSchedule(ctx, sc.ID, domain.TriggerScheduled)
		switch {
		case errors.Is(err, domain.ErrAlreadyRunning):
			s.log.Info().Str("schedule_id", sc.ID).Msg("previous run still active, skipping")
		case err != nil:
			s.log.Warn().Err(err).Str("schedule_id", sc.ID).Msg("scheduled job failed")
		default:
			s.log.Info().Str("schedule_id", sc.ID).Str("job_id", job.ID).Time("next_run", next).Msg("scheduled job finished")
		}
	}()
	return true, nil
}
