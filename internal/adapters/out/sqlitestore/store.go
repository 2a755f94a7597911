// Package sqlitestore persists schedules and jobs in a SQLite database.
//
// The store uses a single connection so every write is serialized by the
// database/sql pool, and the per-schedule running guard is a conditional
// UPDATE rather than process memory.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/bnema/snapkeep/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS backup_schedules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	format TEXT NOT NULL,
	cron TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	retention_days INTEGER NOT NULL,
	last_run TEXT,
	next_run TEXT NOT NULL,
	last_status TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS backup_jobs (
	id TEXT PRIMARY KEY,
	schedule_id TEXT,
	kind TEXT NOT NULL,
	triggered_by TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	filename TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_backup_jobs_schedule ON backup_jobs(schedule_id, status);
CREATE INDEX IF NOT EXISTS idx_backup_jobs_created ON backup_jobs(created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_backup_jobs_one_running
	ON backup_jobs(schedule_id) WHERE status = 'running' AND schedule_id IS NOT NULL;
`

// Store implements out.StatusStore.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the status database at path.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open status store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping status store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize status store schema: %w", err)
	}

	return &Store{db: db, log: log.With().Str("component", "status_store").Logger()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSchedule inserts a new schedule.
func (s *Store) CreateSchedule(ctx context.Context, sc domain.BackupSchedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_schedules
			(id, name, type, format, cron, timezone, enabled, retention_days, last_run, next_run, last_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, string(sc.Type), string(sc.Format), sc.Cron, sc.Timezone, sc.Enabled, sc.RetentionDays,
		nullTime(sc.LastRun), formatTime(sc.NextRun), string(sc.LastStatus), formatTime(sc.CreatedAt), formatTime(sc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `id, name, type, format, cron, timezone, enabled, retention_days, last_run, next_run, last_status, created_at, updated_at`

// GetSchedule loads one schedule.
func (s *Store) GetSchedule(ctx context.Context, id string) (domain.BackupSchedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM backup_schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BackupSchedule{}, fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
	}
	if err != nil {
		return domain.BackupSchedule{}, fmt.Errorf("failed to get schedule: %w", err)
	}
	return sc, nil
}

// ListSchedules returns every schedule ordered by creation time.
func (s *Store) ListSchedules(ctx context.Context) ([]domain.BackupSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM backup_schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.BackupSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// SetScheduleEnabled updates the enabled flag and optionally next_run.
func (s *Store) SetScheduleEnabled(ctx context.Context, id string, enabled bool, nextRun *time.Time, updatedAt time.Time) (domain.BackupSchedule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_schedules
		SET enabled = ?, next_run = COALESCE(?, next_run), updated_at = ?
		WHERE id = ?`,
		enabled, nullTime(nextRun), formatTime(updatedAt), id,
	)
	if err != nil {
		return domain.BackupSchedule{}, fmt.Errorf("failed to update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.BackupSchedule{}, fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
	}
	return s.GetSchedule(ctx, id)
}

// AdvanceNextRun is a compare-and-set on next_run.
func (s *Store) AdvanceNextRun(ctx context.Context, id string, prev, next, updatedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_schedules
		SET next_run = ?, updated_at = ?
		WHERE id = ? AND next_run = ? AND enabled = 1`,
		formatTime(next), formatTime(updatedAt), id, formatTime(prev),
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance next run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to advance next run: %w", err)
	}
	return n == 1, nil
}

// DeleteSchedule removes a schedule. Its jobs lose their schedule lineage.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var running int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM backup_jobs WHERE schedule_id = ? AND status = 'running'`, id,
		).Scan(&running); err != nil {
			return fmt.Errorf("failed to check running jobs: %w", err)
		}
		if running > 0 {
			return fmt.Errorf("cannot delete schedule %s: %w", id, domain.ErrAlreadyRunning)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM backup_schedules WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete schedule: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE backup_jobs SET schedule_id = NULL WHERE schedule_id = ?`, id); err != nil {
			return fmt.Errorf("failed to detach jobs: %w", err)
		}
		return nil
	})
}

// CreateJob inserts a job record.
func (s *Store) CreateJob(ctx context.Context, job domain.BackupJob) error {
	meta, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backup_jobs
			(id, schedule_id, kind, triggered_by, type, format, status, created_at, started_at, completed_at,
			 filename, size, error, error_kind, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullString(job.ScheduleID), string(job.Kind), string(job.Trigger), string(job.Type), string(job.Format),
		string(job.Status), formatTime(job.CreatedAt), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.Filename, job.Size, job.Error, job.ErrorKind, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

const jobColumns = `id, schedule_id, kind, triggered_by, type, format, status, created_at, started_at, completed_at,
	filename, size, error, error_kind, metadata`

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, id string) (domain.BackupJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM backup_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BackupJob{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return domain.BackupJob{}, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.BackupJob, error) {
	var (
		where []string
		args  []any
	)
	switch {
	case filter.ScheduleID != "":
		where = append(where, "schedule_id = ?")
		args = append(args, filter.ScheduleID)
	case filter.ManualOnly:
		where = append(where, "schedule_id IS NULL")
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Filename != "" {
		where = append(where, "filename = ?")
		args = append(args, filter.Filename)
	}

	query := `SELECT ` + jobColumns + ` FROM backup_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.BackupJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob performs the guarded pending to running transition.
func (s *Store) ClaimJob(ctx context.Context, id string, startedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE backup_jobs
			SET status = 'running', started_at = ?
			WHERE id = ? AND status = 'pending'
			  AND (schedule_id IS NULL OR NOT EXISTS (
				SELECT 1 FROM backup_jobs r
				WHERE r.schedule_id = backup_jobs.schedule_id AND r.status = 'running'
			  ))`,
			formatTime(startedAt), id,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyRunning
			}
			return fmt.Errorf("failed to claim job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM backup_jobs WHERE id = ?`, id).Scan(&status)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
			case err != nil:
				return fmt.Errorf("failed to claim job: %w", err)
			case status != string(domain.BackupStatusPending):
				return fmt.Errorf("%w: job %s is %s", domain.ErrJobFinished, id, status)
			default:
				return domain.ErrAlreadyRunning
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE backup_schedules
			SET last_status = 'running', updated_at = ?
			WHERE id = (SELECT schedule_id FROM backup_jobs WHERE id = ?)`,
			formatTime(startedAt), id,
		)
		if err != nil {
			return fmt.Errorf("failed to mark schedule running: %w", err)
		}
		return nil
	})
}

// CompleteJob writes the terminal job state and the schedule outcome atomically.
func (s *Store) CompleteJob(ctx context.Context, job domain.BackupJob, outcome *domain.ScheduleOutcome) error {
	if !job.Status.Terminal() {
		return fmt.Errorf("cannot complete job %s with non-terminal status %q", job.ID, job.Status)
	}
	meta, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}
	if job.CompletedAt == nil {
		return fmt.Errorf("cannot complete job %s without a completion time", job.ID)
	}
	completedAt := *job.CompletedAt

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// pending may only go straight to failed (rejected claims).
		res, err := tx.ExecContext(ctx, `
			UPDATE backup_jobs
			SET status = ?, completed_at = ?, filename = ?, size = ?, error = ?, error_kind = ?, metadata = ?
			WHERE id = ? AND (status = 'running' OR (status = 'pending' AND ? = 'failed'))`,
			string(job.Status), formatTime(completedAt), job.Filename, job.Size, job.Error, job.ErrorKind, meta,
			job.ID, string(job.Status),
		)
		if err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrJobFinished, job.ID)
		}

		if outcome == nil || job.ScheduleID == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE backup_schedules
			SET last_status = ?,
			    last_run = COALESCE(?, last_run),
			    next_run = CASE WHEN enabled = 1 AND ? IS NOT NULL THEN ? ELSE next_run END,
			    updated_at = ?
			WHERE id = ?`,
			string(outcome.LastStatus), nullTime(outcome.LastRun),
			nullTime(outcome.NextRun), nullTime(outcome.NextRun),
			formatTime(completedAt), job.ScheduleID,
		)
		if err != nil {
			return fmt.Errorf("failed to update schedule outcome: %w", err)
		}
		return nil
	})
}

// DeleteJob removes a job record.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backup_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return nil
}

// FailStaleJobs fails jobs that have been active since before cutoff, which
// only happens when the process died mid-job.
func (s *Store) FailStaleJobs(ctx context.Context, cutoff, now time.Time) (int, error) {
	var failed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE backup_jobs
			SET status = 'failed', completed_at = ?, error = ?, error_kind = ?
			WHERE (status = 'running' AND started_at < ?)
			   OR (status = 'pending' AND created_at < ?)`,
			formatTime(now), domain.JobError(domain.ErrTimeout), domain.ErrorKind(domain.ErrTimeout),
			formatTime(cutoff), formatTime(cutoff),
		)
		if err != nil {
			return fmt.Errorf("failed to fail stale jobs: %w", err)
		}
		failed, _ = res.RowsAffected()
		if failed == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE backup_schedules
			SET last_status = 'failed', updated_at = ?
			WHERE last_status = 'running'
			  AND NOT EXISTS (SELECT 1 FROM backup_jobs j WHERE j.schedule_id = backup_schedules.id AND j.status = 'running')`,
			formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to reset schedule status: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if failed > 0 {
		s.log.Warn().Int64("count", failed).Time("cutoff", cutoff).Msg("failed stale jobs")
	}
	return int(failed), nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (domain.BackupSchedule, error) {
	var (
		sc                           domain.BackupSchedule
		typ, format, status          string
		lastRun                      sql.NullString
		nextRun, createdAt, updatedAt string
	)
	if err := row.Scan(&sc.ID, &sc.Name, &typ, &format, &sc.Cron, &sc.Timezone, &sc.Enabled, &sc.RetentionDays,
		&lastRun, &nextRun, &status, &createdAt, &updatedAt); err != nil {
		return domain.BackupSchedule{}, err
	}
	sc.Type = domain.BackupType(typ)
	sc.Format = domain.BackupFormat(format)
	sc.LastStatus = domain.BackupJobStatus(status)

	var err error
	if sc.LastRun, err = parseNullTime(lastRun); err != nil {
		return domain.BackupSchedule{}, err
	}
	if sc.NextRun, err = parseTime(nextRun); err != nil {
		return domain.BackupSchedule{}, err
	}
	if sc.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.BackupSchedule{}, err
	}
	if sc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.BackupSchedule{}, err
	}
	return sc, nil
}

func scanJob(row scanner) (domain.BackupJob, error) {
	var (
		job                                   domain.BackupJob
		scheduleID, startedAt, completedAt    sql.NullString
		kind, trigger, typ, format, status    string
		createdAt, meta                       string
	)
	if err := row.Scan(&job.ID, &scheduleID, &kind, &trigger, &typ, &format, &status, &createdAt, &startedAt, &completedAt,
		&job.Filename, &job.Size, &job.Error, &job.ErrorKind, &meta); err != nil {
		return domain.BackupJob{}, err
	}
	job.ScheduleID = scheduleID.String
	job.Kind = domain.JobKind(kind)
	job.Trigger = domain.JobTrigger(trigger)
	job.Type = domain.BackupType(typ)
	job.Format = domain.BackupFormat(format)
	job.Status = domain.BackupJobStatus(status)

	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.BackupJob{}, err
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return domain.BackupJob{}, err
	}
	if job.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return domain.BackupJob{}, err
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &job.Metadata); err != nil {
			return domain.BackupJob{}, fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}
	return job, nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode job metadata: %w", err)
	}
	return string(data), nil
}

// Timestamps are stored as fixed-width UTC text so string comparison orders them.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
