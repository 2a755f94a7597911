package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/snapkeep/internal/boundaries/in"
	"github.com/bnema/snapkeep/internal/boundaries/in/mocks"
	"github.com/bnema/snapkeep/internal/domain"
)

type fakeLocal struct {
	svc     *mocks.MockBackupService
	swept   int
	sweepFn func() (int, error)
	closed  bool
}

func (f *fakeLocal) Backup() in.BackupService { return f.svc }

func (f *fakeLocal) Sweep(context.Context) (int, error) {
	f.swept++
	if f.sweepFn != nil {
		return f.sweepFn()
	}
	return 0, nil
}

func (f *fakeLocal) Close() error {
	f.closed = true
	return nil
}

type harness struct {
	local      *fakeLocal
	configPath string
	served     bool
	pid        int
}

func newHarness(t *testing.T) *harness {
	return &harness{local: &fakeLocal{svc: mocks.NewMockBackupService(t)}}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	deps := Deps{
		OpenLocal: func(configPath string) (Local, error) {
			h.configPath = configPath
			return h.local, nil
		},
		Serve: func(ctx context.Context, configPath string) error {
			h.served = true
			h.configPath = configPath
			return nil
		},
		Running: func(string) (int, bool) { return h.pid, h.pid != 0 },
	}
	root := NewRootCmd(deps)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2024-01-01")
	t.Cleanup(func() { Version, Commit, BuildDate = "dev", "unknown", "unknown" })

	out, err := newHarness(t).run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "snapkeep 1.2.3")
	assert.Contains(t, out, "Commit: abc123")

	out, err = newHarness(t).run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestServeCommandPassesConfig(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "serve", "--config", "/etc/snapkeep/snapkeep.toml")
	require.NoError(t, err)
	assert.True(t, h.served)
	assert.Equal(t, "/etc/snapkeep/snapkeep.toml", h.configPath)
}

func TestBackupRunCommand(t *testing.T) {
	h := newHarness(t)
	job := &domain.BackupJob{
		ID: "job-1", Kind: domain.JobKindBackup, Trigger: domain.TriggerManual,
		Status: domain.BackupStatusSuccess, Filename: "backup-2024-01-01.zip", Size: 2048,
	}
	h.local.svc.EXPECT().
		Execute(mock.Anything, domain.RunBackup{Type: domain.BackupTypeFull, Format: domain.BackupFormatSQL}).
		Return(&domain.CommandResult{Action: domain.ActionRunBackup, Job: job}, nil)

	out, err := h.run(t, "backup", "run", "--type", "full")
	require.NoError(t, err)
	assert.Contains(t, out, "backup-2024-01-01.zip")
	assert.Contains(t, out, "2.0 kB")
	assert.True(t, h.local.closed)
}

func TestBackupRunZipFlag(t *testing.T) {
	h := newHarness(t)
	job := &domain.BackupJob{ID: "job-3", Status: domain.BackupStatusSuccess, Filename: "backup-2024-01-01.zip"}
	h.local.svc.EXPECT().
		Execute(mock.Anything, domain.RunBackup{Type: domain.BackupTypeDatabase, Format: domain.BackupFormatSQL, Zip: true}).
		Return(&domain.CommandResult{Action: domain.ActionRunBackup, Job: job}, nil)

	out, err := h.run(t, "backup", "run", "--zip")
	require.NoError(t, err)
	assert.Contains(t, out, "backup-2024-01-01.zip")
}

func TestBackupRunFailureStillPrintsJob(t *testing.T) {
	h := newHarness(t)
	job := &domain.BackupJob{ID: "job-2", Status: domain.BackupStatusFailed, Error: "dump failed: disk full"}
	h.local.svc.EXPECT().Execute(mock.Anything, mock.Anything).
		Return(&domain.CommandResult{Job: job}, domain.ErrDumpFailed)

	out, err := h.run(t, "backup", "run")
	require.ErrorIs(t, err, domain.ErrDumpFailed)
	assert.Contains(t, out, "job-2")
	assert.Contains(t, out, "disk full")
}

func TestBackupListCommand(t *testing.T) {
	h := newHarness(t)
	h.local.svc.EXPECT().ListBackups(mock.Anything).Return([]domain.BackupFile{{
		Filename: "backup-2024-01-02.sql", Size: 1 << 20, Created: time.Now().Add(-2 * time.Hour),
		Type: domain.BackupTypeDatabase, Format: domain.BackupFormatSQL, ScheduleID: "s1",
	}}, nil)

	out, err := h.run(t, "backup", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "backup-2024-01-02.sql")
	assert.Contains(t, out, "1.0 MB")
	assert.Contains(t, out, "2 hours ago")

	h = newHarness(t)
	h.local.svc.EXPECT().ListBackups(mock.Anything).Return(nil, nil)
	out, err = h.run(t, "backup", "list")
	require.NoError(t, err)
	assert.Equal(t, "No backups found\n", out)
}

func TestBackupJobsCommandFilters(t *testing.T) {
	h := newHarness(t)
	h.local.svc.EXPECT().ListJobs(mock.Anything, domain.JobFilter{
		ScheduleID: "s1", Status: domain.BackupStatusFailed, Limit: 3,
	}).Return([]domain.BackupJob{{ID: "j1", ScheduleID: "s1", Status: domain.BackupStatusFailed, ErrorKind: "Timeout"}}, nil)

	out, err := h.run(t, "backup", "jobs", "--schedule", "s1", "--status", "failed", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "j1")
	assert.Contains(t, out, "Timeout")
}

func TestBackupSweepCommand(t *testing.T) {
	h := newHarness(t)
	h.local.sweepFn = func() (int, error) { return 2, nil }
	out, err := h.run(t, "backup", "sweep")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 2 expired backup(s)\n", out)

	h = newHarness(t)
	h.local.sweepFn = func() (int, error) { return 1, domain.ErrRetentionSweepPartialFailure }
	out, err = h.run(t, "backup", "sweep")
	require.ErrorIs(t, err, domain.ErrRetentionSweepPartialFailure)
	assert.Contains(t, out, "Deleted 1")
}

func TestScheduleCreateCommand(t *testing.T) {
	h := newHarness(t)
	enabled := true
	next := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	h.local.svc.EXPECT().Execute(mock.Anything, domain.CreateSchedule{
		Name: "nightly", Type: domain.BackupTypeDatabase, Format: domain.BackupFormatSQL,
		Cron: "0 2 * * *", Timezone: "Europe/Paris", RetentionDays: 14, Enabled: &enabled,
	}).Return(&domain.CommandResult{Schedule: &domain.BackupSchedule{
		ID: "s1", Name: "nightly", Type: domain.BackupTypeDatabase, Format: domain.BackupFormatSQL,
		Cron: "0 2 * * *", Timezone: "Europe/Paris", Enabled: true, RetentionDays: 14, NextRun: next,
	}}, nil)

	out, err := h.run(t, "schedule", "create", "nightly", "0 2 * * *", "--retention", "14", "--timezone", "Europe/Paris")
	require.NoError(t, err)
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "14d")
	assert.Contains(t, out, "2024-01-02T02:00:00Z")
}

func TestScheduleCreateInvalidExpression(t *testing.T) {
	h := newHarness(t)
	h.local.svc.EXPECT().Execute(mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidScheduleExpression)

	_, err := h.run(t, "schedule", "create", "bad", "61 * * * *")
	require.ErrorIs(t, err, domain.ErrInvalidScheduleExpression)
}

func TestScheduleToggleCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want *bool
	}{
		{"flip", []string{"schedule", "toggle", "s1"}, nil},
		{"enable", []string{"schedule", "toggle", "s1", "--enable"}, boolPtr(true)},
		{"disable", []string{"schedule", "toggle", "s1", "--disable"}, boolPtr(false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.local.svc.EXPECT().Execute(mock.Anything, domain.ToggleSchedule{ID: "s1", Enabled: tt.want}).
				Return(&domain.CommandResult{Schedule: &domain.BackupSchedule{ID: "s1"}}, nil)
			_, err := h.run(t, tt.args...)
			require.NoError(t, err)
		})
	}

	_, err := newHarness(t).run(t, "schedule", "toggle", "s1", "--enable", "--disable")
	require.Error(t, err)
}

func TestScheduleRunAndDelete(t *testing.T) {
	h := newHarness(t)
	h.local.svc.EXPECT().Execute(mock.Anything, domain.RunSchedule{ID: "s1"}).
		Return(nil, domain.ErrAlreadyRunning)
	_, err := h.run(t, "schedule", "run", "s1")
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)

	h = newHarness(t)
	h.local.svc.EXPECT().Execute(mock.Anything, domain.DeleteSchedule{ID: "s1"}).
		Return(&domain.CommandResult{Action: domain.ActionDeleteSchedule}, nil)
	out, err := h.run(t, "schedule", "rm", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted schedule s1\n", out)
}

func TestScheduleListEmpty(t *testing.T) {
	h := newHarness(t)
	h.local.svc.EXPECT().ListSchedules(mock.Anything).Return(nil, nil)
	out, err := h.run(t, "schedule", "list")
	require.NoError(t, err)
	assert.Equal(t, "No schedules found\n", out)
}

func TestRestoreCommandFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.sql")
	require.NoError(t, os.WriteFile(path, []byte("CREATE TABLE t (id INTEGER);"), 0o600))

	h := newHarness(t)
	h.local.svc.EXPECT().Execute(mock.Anything, mock.MatchedBy(func(cmd domain.Command) bool {
		r, ok := cmd.(domain.Restore)
		if !ok || r.Snapshot == nil || r.Filename != "snap.sql" {
			return false
		}
		body, err := io.ReadAll(r.Snapshot)
		return err == nil && string(body) == "CREATE TABLE t (id INTEGER);"
	})).Return(&domain.CommandResult{Report: &domain.RestoreReport{Statements: 1, Tables: 1}}, nil)

	out, err := h.run(t, "restore", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 1 statement(s), 1 table(s), 0 row(s)")
}

func TestRestoreCommandArtifactAndFailure(t *testing.T) {
	h := newHarness(t)
	stmtErr := &domain.StatementError{Index: 3, Err: errors.New("no such table: ghosts")}
	h.local.svc.EXPECT().Execute(mock.Anything, domain.Restore{Filename: "backup-2024-01-01.sql"}).
		Return(nil, stmtErr)

	_, err := h.run(t, "restore", "--artifact", "backup-2024-01-01.sql")
	require.ErrorIs(t, err, domain.ErrRestoreFailed)
	assert.Contains(t, err.Error(), "statement 3")

	_, err = newHarness(t).run(t, "restore", filepath.Join(t.TempDir(), "missing.sql"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open snapshot")
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t)
	h.pid = 4242
	h.local.svc.EXPECT().ListSchedules(mock.Anything).Return([]domain.BackupSchedule{
		{ID: "a", Enabled: true}, {ID: "b"},
	}, nil)
	h.local.svc.EXPECT().ListJobs(mock.Anything, domain.JobFilter{Limit: 5}).Return(nil, nil)

	out, err := h.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Server: running (pid 4242)")
	assert.Contains(t, out, "Schedules: 2 (1 enabled)")
	assert.Contains(t, out, "No jobs found")
}

func TestOpenLocalFailure(t *testing.T) {
	root := NewRootCmd(Deps{
		OpenLocal: func(string) (Local, error) { return nil, errors.New("invalid configuration") },
		Serve:     func(context.Context, string) error { return nil },
		Running:   func(string) (int, bool) { return 0, false },
	})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"schedule", "list"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func boolPtr(b bool) *bool { return &b }
