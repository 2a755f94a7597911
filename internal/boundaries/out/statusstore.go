package out

import (
	"context"
	"time"

	"github.com/bnema/snapkeep/internal/domain"
)

// StatusStore persists schedules and jobs. Every write is atomic.
type StatusStore interface {
	CreateSchedule(ctx context.Context, schedule domain.BackupSchedule) error
	GetSchedule(ctx context.Context, id string) (domain.BackupSchedule, error)
	ListSchedules(ctx context.Context) ([]domain.BackupSchedule, error)
	// SetScheduleEnabled persists the flag and, when non-nil, a recomputed next run.
	SetScheduleEnabled(ctx context.Context, id string, enabled bool, nextRun *time.Time, updatedAt time.Time) (domain.BackupSchedule, error)
	// AdvanceNextRun moves next_run from prev to next; it reports false when
	// another writer already moved it.
	AdvanceNextRun(ctx context.Context, id string, prev, next, updatedAt time.Time) (bool, error)
	DeleteSchedule(ctx context.Context, id string) error

	CreateJob(ctx context.Context, job domain.BackupJob) error
	GetJob(ctx context.Context, id string) (domain.BackupJob, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.BackupJob, error)
	// ClaimJob moves a pending job to running unless its schedule already
	// has a running job, in which case it returns domain.ErrAlreadyRunning.
	ClaimJob(ctx context.Context, id string, startedAt time.Time) error
	// CompleteJob writes a terminal job state and, when outcome is non-nil,
	// the owning schedule's outcome in the same transaction. job.CompletedAt is required.
	CompleteJob(ctx context.Context, job domain.BackupJob, outcome *domain.ScheduleOutcome) error
	DeleteJob(ctx context.Context, id string) error
	// FailStaleJobs fails running jobs started before cutoff.
	FailStaleJobs(ctx context.Context, cutoff, now time.Time) (int, error)
}
