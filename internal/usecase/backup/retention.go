package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/bnema/snapkeep/internal/boundaries/out"
	"github.com/bnema/snapkeep/internal/domain"
)

const defaultSweepInterval = time.Hour

// RetentionManager deletes backup artifacts that fell out of their
// schedule's retention window. The newest successful backup of a schedule
// is never deleted, however old it is.
type RetentionManager struct {
	store   out.StatusStore
	storage out.BackupStorage
	metrics out.JobRecorder
	policy  domain.RetentionPolicy
	clock   clock.Clock
	log     zerolog.Logger
}

// RetentionOption configures a RetentionManager.
type RetentionOption func(*RetentionManager)

// WithRetentionClock replaces the wall clock.
func WithRetentionClock(c clock.Clock) RetentionOption {
	return func(m *RetentionManager) {
		m.clock = c
	}
}

// WithRetentionMetrics records sweep outcomes.
func WithRetentionMetrics(r out.JobRecorder) RetentionOption {
	return func(m *RetentionManager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// NewRetentionManager creates a retention manager.
func NewRetentionManager(store out.StatusStore, storage out.BackupStorage, policy domain.RetentionPolicy, log zerolog.Logger, opts ...RetentionOption) *RetentionManager {
	if policy.SweepInterval <= 0 {
		policy.SweepInterval = defaultSweepInterval
	}
	m := &RetentionManager{
		store:   store,
		storage: storage,
		metrics: noopRecorder{},
		policy:  policy,
		clock:   clock.New(),
		log:     log.With().Str("component", "retention").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// String names the service in supervisor logs.
func (m *RetentionManager) String() string {
	return "retention"
}

// Serve sweeps once at start and then on every interval until ctx ends.
func (m *RetentionManager) Serve(ctx context.Context) error {
	m.log.Info().Dur("interval", m.policy.SweepInterval).Msg("retention manager started")

	ticker := m.clock.Ticker(m.policy.SweepInterval)
	defer ticker.Stop()

	m.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("retention manager stopped")
			return nil
		case <-ticker.C:
			m.sweepAndLog(ctx)
		}
	}
}

func (m *RetentionManager) sweepAndLog(ctx context.Context) {
	deleted, err := m.Sweep(ctx)
	if err != nil {
		m.log.Warn().Err(err).Int("deleted", deleted).Msg("retention sweep incomplete")
		return
	}
	if deleted > 0 {
		m.log.Info().Int("deleted", deleted).Msg("retention sweep completed")
	}
}

// Sweep applies retention to every schedule, and to manual backups when the
// policy includes them. Per-item failures do not stop the sweep; they are
// returned joined under domain.ErrRetentionSweepPartialFailure.
func (m *RetentionManager) Sweep(ctx context.Context) (int, error) {
	now := m.clock.Now().UTC()

	schedules, err := m.store.ListSchedules(ctx)
	if err != nil {
		return 0, err
	}

	var (
		deleted int
		errs    []error
	)
	for _, sc := range schedules {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		n, err := m.sweepGroup(ctx, domain.JobFilter{ScheduleID: sc.ID}, now.Add(-sc.RetentionWindow()))
		deleted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", sc.ID, err))
		}
	}

	if m.policy.IncludeManual && m.policy.ManualDays > 0 {
		window := time.Duration(m.policy.ManualDays) * 24 * time.Hour
		n, err := m.sweepGroup(ctx, domain.JobFilter{ManualOnly: true}, now.Add(-window))
		deleted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("manual backups: %w", err))
		}
	}

	m.metrics.RetentionDeleted(deleted)
	if len(errs) > 0 {
		m.metrics.RetentionFailed()
		return deleted, fmt.Errorf("%w: %w", domain.ErrRetentionSweepPartialFailure, errors.Join(errs...))
	}
	return deleted, nil
}

// sweepGroup returns the number of artifacts deleted for one lineage.
func (m *RetentionManager) sweepGroup(ctx context.Context, filter domain.JobFilter, cutoff time.Time) (int, error) {
	filter.Kind = domain.JobKindBackup
	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return 0, err
	}

	var successes []domain.BackupJob
	for _, job := range jobs {
		if job.Status == domain.BackupStatusSuccess && job.CompletedAt != nil {
			successes = append(successes, job)
		}
	}
	sort.SliceStable(successes, func(i, j int) bool {
		return successes[i].CompletedAt.After(*successes[j].CompletedAt)
	})

	var (
		deleted int
		errs    []error
	)
	for i, job := range successes {
		if i == 0 || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if job.Filename != "" {
			err := m.storage.Delete(ctx, job.Filename)
			if err != nil && !errors.Is(err, domain.ErrBackupNotFound) {
				errs = append(errs, fmt.Errorf("delete %s: %w", job.Filename, err))
				continue
			}
		}
		if err := m.store.DeleteJob(ctx, job.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete job %s: %w", job.ID, err))
			continue
		}
		deleted++
		m.log.Debug().Str("job_id", job.ID).Str("filename", job.Filename).Msg("expired backup deleted")
	}

	// Failed attempts carry no artifact; only their history is pruned.
	for _, job := range jobs {
		if job.Status != domain.BackupStatusFailed || job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if err := m.store.DeleteJob(ctx, job.ID); err != nil {
			errs = append(errs, fmt.Errorf("prune job %s: %w", job.ID, err))
		}
	}

	return deleted, errors.Join(errs...)
}
