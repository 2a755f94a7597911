package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bnema/snapkeep/internal/boundaries/out"
	"github.com/bnema/snapkeep/internal/domain"
	"github.com/bnema/snapkeep/internal/usecase/cron"
)

const (
	defaultMaxJobDuration = 30 * time.Minute

	// staleGrace is added to the job deadline before a running job is
	// presumed orphaned by a crashed process.
	staleGrace = 5 * time.Minute
)

// Service orchestrates backup and restore jobs.
type Service struct {
	store    out.StatusStore
	storage  out.BackupStorage
	dumper   out.Dumper
	restorer out.Restorer
	files    out.FileSource
	metrics  out.JobRecorder
	config   domain.BackupConfig
	clock    clock.Clock
	validate *validator.Validate
	log      zerolog.Logger

	// late tracks pipelines that outlived their deadline.
	late sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithMetrics records job outcomes.
func WithMetrics(m out.JobRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewService creates a backup service.
func NewService(
	store out.StatusStore,
	storage out.BackupStorage,
	dumper out.Dumper,
	restorer out.Restorer,
	files out.FileSource,
	config domain.BackupConfig,
	log zerolog.Logger,
	opts ...Option,
) *Service {
	if config.MaxJobDuration <= 0 {
		config.MaxJobDuration = defaultMaxJobDuration
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	s := &Service{
		store:    store,
		storage:  storage,
		dumper:   dumper,
		restorer: restorer,
		files:    files,
		metrics:  noopRecorder{},
		config:   config,
		clock:    clock.New(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With().Str("component", "job_executor").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute validates and dispatches a command.
func (s *Service) Execute(ctx context.Context, cmd domain.Command) (*domain.CommandResult, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: empty command", domain.ErrInvalidCommand)
	}
	if err := s.validate.StructCtx(ctx, cmd); err != nil {
		return nil, validationError(err)
	}

	result := &domain.CommandResult{Action: cmd.Action()}
	switch c := cmd.(type) {
	case domain.CreateSchedule:
		sc, err := s.CreateSchedule(ctx, c)
		if err != nil {
			return nil, err
		}
		result.Schedule = sc
	case domain.ToggleSchedule:
		sc, err := s.ToggleSchedule(ctx, c.ID, c.Enabled)
		if err != nil {
			return nil, err
		}
		result.Schedule = &sc
	case domain.RunSchedule:
		job, err := s.RunSchedule(ctx, c.ID, domain.TriggerManual)
		result.Job = job
		if err != nil {
			return result, err
		}
	case domain.DeleteSchedule:
		if err := s.store.DeleteSchedule(ctx, c.ID); err != nil {
			return nil, err
		}
		s.log.Info().Str("schedule_id", c.ID).Msg("schedule deleted")
	case domain.RunBackup:
		job, err := s.runBackup(ctx, c)
		result.Job = job
		if err != nil {
			return result, err
		}
	case domain.Restore:
		var (
			job    *domain.BackupJob
			report *domain.RestoreReport
			err    error
		)
		if c.Snapshot != nil {
			job, report, err = s.Restore(ctx, c.Snapshot, c.Filename)
		} else {
			job, report, err = s.RestoreArtifact(ctx, c.Filename)
		}
		result.Job = job
		result.Report = report
		if err != nil {
			return result, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported action %q", domain.ErrInvalidCommand, cmd.Action())
	}
	return result, nil
}

// CreateSchedule registers a schedule with its first next run computed from now.
func (s *Service) CreateSchedule(ctx context.Context, cmd domain.CreateSchedule) (*domain.BackupSchedule, error) {
	if err := s.validate.StructCtx(ctx, cmd); err != nil {
		return nil, validationError(err)
	}

	now := s.clock.Now().UTC()
	next, err := cron.NextRun(cmd.Cron, cmd.Timezone, now, s.config.Location)
	if err != nil {
		return nil, err
	}

	enabled := true
	if cmd.Enabled != nil {
		enabled = *cmd.Enabled
	}
	sc := domain.BackupSchedule{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(cmd.Name),
		Type:          cmd.Type,
		Format:        cmd.Format,
		Cron:          strings.TrimSpace(cmd.Cron),
		Timezone:      cmd.Timezone,
		Enabled:       enabled,
		RetentionDays: cmd.RetentionDays,
		NextRun:       next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateSchedule(ctx, sc); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("schedule_id", sc.ID).
		Str("cron", sc.Cron).
		Time("next_run", sc.NextRun).
		Msg("schedule created")
	return &sc, nil
}

// ToggleSchedule enables or disables a schedule; a nil enabled flips it.
// Re-enabling recomputes the next run from now so missed runs are not replayed.
func (s *Service) ToggleSchedule(ctx context.Context, id string, enabled *bool) (domain.BackupSchedule, error) {
	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return domain.BackupSchedule{}, err
	}

	want := !sc.Enabled
	if enabled != nil {
		want = *enabled
	}

	now := s.clock.Now().UTC()
	var next *time.Time
	if want && !sc.Enabled {
		n, err := cron.NextRun(sc.Cron, sc.Timezone, now, s.config.Location)
		if err != nil {
			return domain.BackupSchedule{}, err
		}
		next = &n
	}

	updated, err := s.store.SetScheduleEnabled(ctx, id, want, next, now)
	if err != nil {
		return domain.BackupSchedule{}, err
	}
	s.log.Info().Str("schedule_id", id).Bool("enabled", want).Msg("schedule toggled")
	return updated, nil
}

// DeleteSchedule removes a schedule; its artifacts become manual backups.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.Execute(ctx, domain.DeleteSchedule{ID: id})
	return err
}

// RunSchedule runs a schedule's backup now. It fails with
// domain.ErrAlreadyRunning if another job of the schedule is active.
func (s *Service) RunSchedule(ctx context.Context, scheduleID string, trigger domain.JobTrigger) (*domain.BackupJob, error) {
	sc, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	job := s.newJob(domain.JobKindBackup, trigger, sc.Type, sc.Format)
	job.ScheduleID = sc.ID
	return s.run(ctx, job, &sc, false)
}

// RunManual runs an ad-hoc backup without schedule lineage.
func (s *Service) RunManual(ctx context.Context, backupType domain.BackupType, format domain.BackupFormat) (*domain.BackupJob, error) {
	return s.runBackup(ctx, domain.RunBackup{Type: backupType, Format: format})
}

func (s *Service) runBackup(ctx context.Context, cmd domain.RunBackup) (*domain.BackupJob, error) {
	if err := s.validate.StructCtx(ctx, cmd); err != nil {
		return nil, validationError(err)
	}
	job := s.newJob(domain.JobKindBackup, domain.TriggerManual, cmd.Type, cmd.Format)
	return s.run(ctx, job, nil, cmd.Zip)
}

// RecoverStale fails jobs that have been active longer than any live job can be.
func (s *Service) RecoverStale(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	cutoff := now.Add(-(s.config.MaxJobDuration + staleGrace))
	return s.store.FailStaleJobs(ctx, cutoff, now)
}

// Wait blocks until pipelines abandoned after a timeout have been cleaned up.
func (s *Service) Wait() {
	s.late.Wait()
}

type pipelineResult struct {
	file    domain.BackupFile
	skipped []string
	err     error
}

func (s *Service) newJob(kind domain.JobKind, trigger domain.JobTrigger, backupType domain.BackupType, format domain.BackupFormat) domain.BackupJob {
	return domain.BackupJob{
		ID:        uuid.NewString(),
		Kind:      kind,
		Trigger:   trigger,
		Type:      backupType,
		Format:    format,
		Status:    domain.BackupStatusPending,
		CreatedAt: s.clock.Now().UTC(),
	}
}

// claim records the job and performs the guarded PENDING to RUNNING step.
func (s *Service) claim(ctx context.Context, job *domain.BackupJob) error {
	if err := s.store.CreateJob(ctx, *job); err != nil {
		return err
	}

	startedAt := s.clock.Now().UTC()
	err := s.store.ClaimJob(ctx, job.ID, startedAt)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		s.metrics.JobRejected(domain.ErrorKind(err))
		s.fail(ctx, job, nil, err)
		s.log.Info().Str("schedule_id", job.ScheduleID).Str("job_id", job.ID).Msg("job rejected, schedule already running")
		return fmt.Errorf("schedule %s: %w", job.ScheduleID, err)
	}
	if err != nil {
		return err
	}

	job.Status = domain.BackupStatusRunning
	job.StartedAt = &startedAt
	return nil
}

func (s *Service) run(ctx context.Context, job domain.BackupJob, sc *domain.BackupSchedule, zip bool) (*domain.BackupJob, error) {
	if err := s.claim(ctx, &job); err != nil {
		if job.Status == domain.BackupStatusFailed {
			return &job, err
		}
		return nil, err
	}

	log := s.log.With().Str("job_id", job.ID).Str("schedule_id", job.ScheduleID).Logger()
	log.Info().Str("type", string(job.Type)).Str("format", string(job.Format)).Msg("backup started")

	runCtx, cancel := context.WithTimeout(ctx, s.config.MaxJobDuration)
	defer cancel()

	results := make(chan pipelineResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- pipelineResult{err: fmt.Errorf("backup pipeline panicked: %v", r)}
			}
		}()
		results <- s.pipeline(runCtx, job, zip)
	}()

	var res pipelineResult
	select {
	case res = <-results:
	case <-runCtx.Done():
		// A result that raced the deadline still counts.
		select {
		case res = <-results:
		default:
			err := s.deadlineError(runCtx)
			s.fail(ctx, &job, sc, err)
			s.discardLate(job, results)
			log.Warn().Err(err).Msg("backup abandoned")
			return &job, err
		}
	}

	if res.err != nil {
		if runCtx.Err() != nil {
			res.err = fmt.Errorf("%w: %w", s.deadlineError(runCtx), res.err)
		}
		s.fail(ctx, &job, sc, res.err)
		log.Warn().Err(res.err).Msg("backup failed")
		return &job, res.err
	}

	if err := s.succeed(ctx, &job, sc, res); err != nil {
		return &job, err
	}
	log.Info().Str("filename", job.Filename).Int64("size", job.Size).Msg("backup completed")
	return &job, nil
}

func (s *Service) deadlineError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", domain.ErrTimeout, s.config.MaxJobDuration)
	}
	return fmt.Errorf("job cancelled: %w", ctx.Err())
}

// discardLate removes whatever an abandoned pipeline eventually publishes.
func (s *Service) discardLate(job domain.BackupJob, results <-chan pipelineResult) {
	s.late.Add(1)
	go func() {
		defer s.late.Done()
		res := <-results
		if res.err != nil || res.file.Filename == "" {
			return
		}
		if err := s.storage.Delete(context.Background(), res.file.Filename); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Str("filename", res.file.Filename).Msg("failed to discard late artifact")
			return
		}
		s.log.Warn().Str("job_id", job.ID).Str("filename", res.file.Filename).Msg("discarded artifact of timed out job")
	}()
}

func (s *Service) pipeline(ctx context.Context, job domain.BackupJob, zip bool) pipelineResult {
	var streams []domain.NamedStream
	if job.Type.IncludesDatabase() {
		format := job.Format
		streams = append(streams, domain.NamedStream{
			Name: "database." + string(format),
			Open: func() (io.ReadCloser, error) {
				return s.dumper.Dump(ctx, format)
			},
		})
	}
	if job.Type.IncludesFiles() {
		if s.files == nil {
			return pipelineResult{err: fmt.Errorf("%w: no file source configured", domain.ErrDumpFailed)}
		}
		fileStreams, err := s.files.Streams(ctx)
		if err != nil {
			return pipelineResult{err: err}
		}
		streams = append(streams, fileStreams...)
	}

	res, err := s.storage.Package(ctx, out.PackageRequest{
		Type:       job.Type,
		Format:     job.Format,
		ScheduleID: job.ScheduleID,
		JobID:      job.ID,
		Timestamp:  s.clock.Now().In(s.config.Location),
		Zip:        zip,
	}, streams...)
	if err != nil {
		return pipelineResult{err: err}
	}
	return pipelineResult{file: res.File, skipped: res.Skipped}
}

func (s *Service) succeed(ctx context.Context, job *domain.BackupJob, sc *domain.BackupSchedule, res pipelineResult) error {
	completedAt := s.clock.Now().UTC()
	job.Status = domain.BackupStatusSuccess
	job.CompletedAt = &completedAt
	job.Filename = res.file.Filename
	job.Size = res.file.Size
	if len(res.skipped) > 0 {
		job.Metadata = map[string]string{
			domain.MetaSkippedCount: strconv.Itoa(len(res.skipped)),
			domain.MetaSkippedFiles: strings.Join(res.skipped, "\n"),
		}
	}

	var outcome *domain.ScheduleOutcome
	if sc != nil {
		outcome = &domain.ScheduleOutcome{LastRun: &completedAt, LastStatus: domain.BackupStatusSuccess}
		next, err := cron.NextRun(sc.Cron, sc.Timezone, completedAt, s.config.Location)
		if err != nil {
			s.log.Warn().Err(err).Str("schedule_id", sc.ID).Msg("cannot compute next run, keeping current")
		} else {
			outcome.NextRun = &next
		}
	}

	if err := s.store.CompleteJob(context.WithoutCancel(ctx), *job, outcome); err != nil {
		// An artifact without a SUCCESS job would escape retention.
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), job.Filename); delErr != nil {
			s.log.Error().Err(delErr).Str("filename", job.Filename).Msg("failed to remove unrecorded artifact")
		}
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	s.metrics.JobFinished(string(job.Kind), string(job.Trigger), string(job.Status), completedAt.Sub(*job.StartedAt), job.Size)
	return nil
}

// fail records a terminal failure. A nil sc leaves schedules untouched, which
// is also how rejected claims keep the running sibling's status intact.
func (s *Service) fail(ctx context.Context, job *domain.BackupJob, sc *domain.BackupSchedule, cause error) {
	completedAt := s.clock.Now().UTC()
	job.Status = domain.BackupStatusFailed
	job.CompletedAt = &completedAt
	job.Error = domain.JobError(cause)
	job.ErrorKind = domain.ErrorKind(cause)

	var outcome *domain.ScheduleOutcome
	if sc != nil {
		outcome = &domain.ScheduleOutcome{LastStatus: domain.BackupStatusFailed}
	}
	if err := s.store.CompleteJob(context.WithoutCancel(ctx), *job, outcome); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job failure")
	}

	var duration time.Duration
	if job.StartedAt != nil {
		duration = completedAt.Sub(*job.StartedAt)
	}
	s.metrics.JobFinished(string(job.Kind), string(job.Trigger), string(job.Status), duration, 0)
}

// Restore replays an uploaded SQL snapshot as a restore job.
func (s *Service) Restore(ctx context.Context, r io.Reader, filename string) (*domain.BackupJob, *domain.RestoreReport, error) {
	job := s.newJob(domain.JobKindRestore, domain.TriggerRestore, domain.BackupTypeDatabase, domain.BackupFormatSQL)
	if filename != "" {
		job.Metadata = map[string]string{domain.MetaSourceFile: filename}
	}
	if err := s.claim(ctx, &job); err != nil {
		return nil, nil, err
	}

	log := s.log.With().Str("job_id", job.ID).Str("source", filename).Logger()
	log.Info().Msg("restore started")

	runCtx, cancel := context.WithTimeout(ctx, s.config.MaxJobDuration)
	defer cancel()

	report, err := s.restorer.Restore(runCtx, r)
	if err != nil {
		if runCtx.Err() != nil {
			err = fmt.Errorf("%w: %w", s.deadlineError(runCtx), err)
		}
		s.fail(ctx, &job, nil, err)
		log.Warn().Err(err).Msg("restore failed")
		return &job, nil, err
	}

	completedAt := s.clock.Now().UTC()
	job.Status = domain.BackupStatusSuccess
	job.CompletedAt = &completedAt
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	job.Metadata[domain.MetaStatements] = strconv.Itoa(report.Statements)
	if err := s.store.CompleteJob(context.WithoutCancel(ctx), job, nil); err != nil {
		return &job, &report, fmt.Errorf("record job %s: %w", job.ID, err)
	}
	s.metrics.JobFinished(string(job.Kind), string(job.Trigger), string(job.Status), report.Duration, 0)

	log.Info().Int("statements", report.Statements).Dur("duration", report.Duration).Msg("restore completed")
	return &job, &report, nil
}

// RestoreArtifact restores a stored bare SQL artifact.
func (s *Service) RestoreArtifact(ctx context.Context, filename string) (*domain.BackupJob, *domain.RestoreReport, error) {
	if !strings.HasSuffix(filename, ".sql") {
		return nil, nil, fmt.Errorf("%w: only .sql artifacts can be restored", domain.ErrInvalidSnapshotFormat)
	}
	rc, _, err := s.storage.Open(ctx, filename)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	return s.Restore(ctx, rc, filename)
}

// ListSchedules returns every schedule.
func (s *Service) ListSchedules(ctx context.Context) ([]domain.BackupSchedule, error) {
	return s.store.ListSchedules(ctx)
}

// ListJobs returns job history matching filter.
func (s *Service) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.BackupJob, error) {
	return s.store.ListJobs(ctx, filter)
}

// ListBackups returns published artifacts.
func (s *Service) ListBackups(ctx context.Context) ([]domain.BackupFile, error) {
	return s.storage.List(ctx)
}

// OpenBackup opens one artifact for download.
func (s *Service) OpenBackup(ctx context.Context, filename string) (io.ReadCloser, domain.BackupFile, error) {
	return s.storage.Open(ctx, filename)
}

// LatestBackup opens the newest artifact of format.
func (s *Service) LatestBackup(ctx context.Context, format domain.BackupFormat) (io.ReadCloser, domain.BackupFile, error) {
	file, err := s.storage.Latest(ctx, format)
	if err != nil {
		return nil, domain.BackupFile{}, err
	}
	return s.storage.Open(ctx, file.Filename)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidCommand, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidCommand, strings.Join(msgs, "; "))
}

type noopRecorder struct{}

func (noopRecorder) JobFinished(string, string, string, time.Duration, int64) {}
func (noopRecorder) JobRejected(string)                                      {}
func (noopRecorder) RetentionDeleted(int)                                    {}
func (noopRecorder) RetentionFailed()                                        {}
