package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/snapkeep/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "status.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSchedule(id string, next time.Time) domain.BackupSchedule {
	created := next.Add(-16 * time.Hour)
	return domain.BackupSchedule{
		ID:            id,
		Name:          "nightly",
		Type:          domain.BackupTypeDatabase,
		Format:        domain.BackupFormatSQL,
		Cron:          "0 2 * * *",
		Enabled:       true,
		RetentionDays: 7,
		NextRun:       next,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func pendingJob(id, scheduleID string, created time.Time) domain.BackupJob {
	return domain.BackupJob{
		ID:         id,
		ScheduleID: scheduleID,
		Kind:       domain.JobKindBackup,
		Trigger:    domain.TriggerScheduled,
		Type:       domain.BackupTypeDatabase,
		Format:     domain.BackupFormatSQL,
		Status:     domain.BackupStatusPending,
		CreatedAt:  created,
	}
}

func TestStoreScheduleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	next := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)

	sc := testSchedule("s1", next)
	sc.Timezone = "Europe/Paris"
	require.NoError(t, store.CreateSchedule(ctx, sc))

	got, err := store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sc, got)

	_, err = store.GetSchedule(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)

	list, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestStoreClaimJobAllowsOneRunningPerSchedule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", now)))

	require.NoError(t, store.CreateJob(ctx, pendingJob("j1", "s1", now)))
	require.NoError(t, store.CreateJob(ctx, pendingJob("j2", "s1", now.Add(10*time.Millisecond))))

	require.NoError(t, store.ClaimJob(ctx, "j1", now))
	err := store.ClaimJob(ctx, "j2", now)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	sc, err := store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusRunning, sc.LastStatus)

	// Manual jobs are not guarded by a schedule.
	require.NoError(t, store.CreateJob(ctx, pendingJob("m1", "", now)))
	require.NoError(t, store.CreateJob(ctx, pendingJob("m2", "", now)))
	require.NoError(t, store.ClaimJob(ctx, "m1", now))
	require.NoError(t, store.ClaimJob(ctx, "m2", now))
}

func TestStoreClaimJobConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", now)))

	const workers = 8
	for i := 0; i < workers; i++ {
		require.NoError(t, store.CreateJob(ctx, pendingJob(fmt.Sprintf("j%d", i), "s1", now)))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		blocked int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := store.ClaimJob(ctx, id, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, domain.ErrAlreadyRunning):
				blocked++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}(fmt.Sprintf("j%d", i))
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, workers-1, blocked)

	running, err := store.ListJobs(ctx, domain.JobFilter{ScheduleID: "s1", Status: domain.BackupStatusRunning})
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestStoreCompleteJobUpdatesScheduleAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	next := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", next)))
	require.NoError(t, store.CreateJob(ctx, pendingJob("j1", "s1", next)))
	require.NoError(t, store.ClaimJob(ctx, "j1", next))

	completed := next.Add(5 * time.Second)
	following := time.Date(2024, 1, 3, 2, 0, 0, 0, time.UTC)
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	job.Status = domain.BackupStatusSuccess
	job.CompletedAt = &completed
	job.Filename = "backup-2024-01-02.sql"
	job.Size = 42
	job.Metadata = map[string]string{domain.MetaSkippedCount: "0"}

	require.NoError(t, store.CompleteJob(ctx, job, &domain.ScheduleOutcome{
		LastRun:    &completed,
		LastStatus: domain.BackupStatusSuccess,
		NextRun:    &following,
	}))

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, completed, *got.CompletedAt)
	assert.Equal(t, "backup-2024-01-02.sql", got.Filename)
	assert.Equal(t, "0", got.Metadata[domain.MetaSkippedCount])

	sc, err := store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sc.LastRun)
	assert.Equal(t, completed, *sc.LastRun)
	assert.Equal(t, following, sc.NextRun)
	assert.Equal(t, domain.BackupStatusSuccess, sc.LastStatus)

	// Terminal jobs cannot transition again.
	job.Status = domain.BackupStatusFailed
	err = store.CompleteJob(ctx, job, nil)
	assert.ErrorIs(t, err, domain.ErrJobFinished)
}

func TestStoreCompleteJobKeepsNextRunWhenDisabled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	next := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", next)))
	require.NoError(t, store.CreateJob(ctx, pendingJob("j1", "s1", next)))
	require.NoError(t, store.ClaimJob(ctx, "j1", next))
	_, err := store.SetScheduleEnabled(ctx, "s1", false, nil, next)
	require.NoError(t, err)

	completed := next.Add(time.Second)
	following := next.Add(24 * time.Hour)
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	job.Status = domain.BackupStatusSuccess
	job.CompletedAt = &completed
	require.NoError(t, store.CompleteJob(ctx, job, &domain.ScheduleOutcome{
		LastRun: &completed, LastStatus: domain.BackupStatusSuccess, NextRun: &following,
	}))

	sc, err := store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, next, sc.NextRun, "disabled schedules keep a frozen next run")
	assert.False(t, sc.Enabled)
}

func TestStoreCompleteJobRejectsPendingSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateJob(ctx, pendingJob("j1", "", now)))

	job := pendingJob("j1", "", now)
	job.CompletedAt = &now
	job.Status = domain.BackupStatusSuccess
	assert.ErrorIs(t, store.CompleteJob(ctx, job, nil), domain.ErrJobFinished)

	job.Status = domain.BackupStatusFailed
	job.ErrorKind = "AlreadyRunning"
	assert.NoError(t, store.CompleteJob(ctx, job, nil))
}

func TestStoreAdvanceNextRunIsCompareAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	next := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", next)))

	following := next.Add(24 * time.Hour)
	advancedAt := next.Add(3 * time.Second)
	ok, err := store.AdvanceNextRun(ctx, "s1", next, following, advancedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AdvanceNextRun(ctx, "s1", next, following, advancedAt.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "second writer with a stale value loses")

	sc, err := store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, advancedAt, sc.UpdatedAt)
}

func TestStoreTimestampsComeFromCaller(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	next := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", next)))

	toggledAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sc, err := store.SetScheduleEnabled(ctx, "s1", false, nil, toggledAt)
	require.NoError(t, err)
	assert.Equal(t, toggledAt, sc.UpdatedAt)

	sc, err = store.SetScheduleEnabled(ctx, "s1", true, &next, toggledAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, toggledAt.Add(time.Hour), sc.UpdatedAt)

	require.NoError(t, store.CreateJob(ctx, pendingJob("j1", "s1", next)))
	require.NoError(t, store.ClaimJob(ctx, "j1", next))
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	job.Status = domain.BackupStatusFailed

	err = store.CompleteJob(ctx, job, nil)
	require.Error(t, err, "a completion without a timestamp is refused")
	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusRunning, got.Status)

	completed := next.Add(7 * time.Second)
	job.CompletedAt = &completed
	require.NoError(t, store.CompleteJob(ctx, job, &domain.ScheduleOutcome{LastStatus: domain.BackupStatusFailed}))
	sc, err = store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, completed, sc.UpdatedAt)
}

func TestStoreDeleteSchedule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", now)))
	require.NoError(t, store.CreateJob(ctx, pendingJob("j1", "s1", now)))
	require.NoError(t, store.ClaimJob(ctx, "j1", now))

	err := store.DeleteSchedule(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	job.Status = domain.BackupStatusSuccess
	job.CompletedAt = &now
	require.NoError(t, store.CompleteJob(ctx, job, nil))

	require.NoError(t, store.DeleteSchedule(ctx, "s1"))
	assert.ErrorIs(t, store.DeleteSchedule(ctx, "s1"), domain.ErrScheduleNotFound)

	orphans, err := store.ListJobs(ctx, domain.JobFilter{ManualOnly: true})
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.False(t, orphans[0].HasSchedule())
}

func TestStoreFailStaleJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", start)))
	require.NoError(t, store.CreateJob(ctx, pendingJob("j1", "s1", start)))
	require.NoError(t, store.ClaimJob(ctx, "j1", start))

	n, err := store.FailStaleJobs(ctx, start.Add(-time.Minute), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = store.FailStaleJobs(ctx, start.Add(time.Minute), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusFailed, job.Status)
	assert.Equal(t, "Timeout", job.ErrorKind)

	sc, err := store.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusFailed, sc.LastStatus)

	// The schedule is free again.
	require.NoError(t, store.CreateJob(ctx, pendingJob("j2", "s1", start.Add(time.Hour))))
	require.NoError(t, store.ClaimJob(ctx, "j2", start.Add(time.Hour)))
}

func TestStoreListJobsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(ctx, testSchedule("s1", base)))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateJob(ctx, pendingJob(fmt.Sprintf("s1-%d", i), "s1", base.Add(time.Duration(i)*time.Hour))))
	}
	restore := pendingJob("r1", "", base)
	restore.Kind = domain.JobKindRestore
	restore.Trigger = domain.TriggerRestore
	require.NoError(t, store.CreateJob(ctx, restore))

	jobs, err := store.ListJobs(ctx, domain.JobFilter{ScheduleID: "s1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "s1-4", jobs[0].ID, "newest first")

	jobs, err = store.ListJobs(ctx, domain.JobFilter{Kind: domain.JobKindRestore})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.TriggerRestore, jobs[0].Trigger)

	require.NoError(t, store.DeleteJob(ctx, "r1"))
	assert.ErrorIs(t, store.DeleteJob(ctx, "r1"), domain.ErrJobNotFound)
}
