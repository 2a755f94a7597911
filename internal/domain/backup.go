package domain

import (
	"io"
	"time"
)

// BackupType selects what a backup captures.
type BackupType string

const (
	BackupTypeDatabase BackupType = "database"
	BackupTypeFiles    BackupType = "files"
	BackupTypeFull     BackupType = "full"
)

// Valid reports whether t is a known backup type.
func (t BackupType) Valid() bool {
	switch t {
	case BackupTypeDatabase, BackupTypeFiles, BackupTypeFull:
		return true
	default:
		return false
	}
}

// IncludesDatabase reports whether the backup carries a database dump.
func (t BackupType) IncludesDatabase() bool {
	return t == BackupTypeDatabase || t == BackupTypeFull
}

// IncludesFiles reports whether the backup carries the file tree.
func (t BackupType) IncludesFiles() bool {
	return t == BackupTypeFiles || t == BackupTypeFull
}

// BackupFormat selects the encoding of the database dump.
type BackupFormat string

const (
	BackupFormatSQL  BackupFormat = "sql"
	BackupFormatJSON BackupFormat = "json"
)

// Valid reports whether f is a known format.
func (f BackupFormat) Valid() bool {
	return f == BackupFormatSQL || f == BackupFormatJSON
}

// BackupJobStatus tracks backup job lifecycle state.
type BackupJobStatus string

const (
	BackupStatusPending BackupJobStatus = "pending"
	BackupStatusRunning BackupJobStatus = "running"
	BackupStatusSuccess BackupJobStatus = "success"
	BackupStatusFailed  BackupJobStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s BackupJobStatus) Terminal() bool {
	return s == BackupStatusSuccess || s == BackupStatusFailed
}

// JobKind distinguishes backup jobs from restore jobs.
type JobKind string

const (
	JobKindBackup  JobKind = "backup"
	JobKindRestore JobKind = "restore"
)

// JobTrigger records what started a job.
type JobTrigger string

const (
	TriggerScheduled JobTrigger = "scheduled"
	TriggerManual    JobTrigger = "manual"
	TriggerRestore   JobTrigger = "restore"
)

// Job metadata keys.
const (
	MetaSkippedFiles = "skipped_files"
	MetaSkippedCount = "skipped_count"
	MetaSourceFile   = "source_file"
	MetaStatements   = "statements"
)

// BackupJob is one execution attempt of a schedule, an ad-hoc backup or a restore.
type BackupJob struct {
	ID          string            `json:"id"`
	ScheduleID  string            `json:"scheduleId,omitempty"`
	Kind        JobKind           `json:"kind"`
	Trigger     JobTrigger        `json:"trigger"`
	Type        BackupType        `json:"type,omitempty"`
	Format      BackupFormat      `json:"format,omitempty"`
	Status      BackupJobStatus   `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	Size        int64             `json:"size,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   string            `json:"errorKind,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HasSchedule reports whether the job belongs to a schedule.
func (j BackupJob) HasSchedule() bool {
	return j.ScheduleID != ""
}

// JobFilter narrows job listings. Zero values match everything.
type JobFilter struct {
	ScheduleID string
	// ManualOnly selects jobs without schedule lineage.
	ManualOnly bool
	Kind       JobKind
	Status     BackupJobStatus
	Filename   string
	Limit      int
}

// BackupFile is an artifact that passed the atomic publish step.
type BackupFile struct {
	Filename   string       `json:"filename"`
	Size       int64        `json:"size"`
	Created    time.Time    `json:"created"`
	Modified   time.Time    `json:"modified"`
	Type       BackupType   `json:"type"`
	Format     BackupFormat `json:"format"`
	ScheduleID string       `json:"scheduleId,omitempty"`
	JobID      string       `json:"jobId,omitempty"`
}

// NamedStream is one entry handed to the archive packager. Open is called
// lazily so a file that disappeared after listing can be skipped.
type NamedStream struct {
	Name    string
	ModTime time.Time
	Open    func() (io.ReadCloser, error)
	// Optional entries may vanish between listing and packaging.
	Optional bool
}

// ManifestVersion is written into every zip manifest.
const ManifestVersion = 1

// ManifestName is the manifest entry inside zip artifacts.
const ManifestName = "manifest.json"

// Manifest describes the content of a zip artifact.
type Manifest struct {
	Version    int             `json:"version"`
	CreatedAt  time.Time       `json:"createdAt"`
	ScheduleID string          `json:"scheduleId,omitempty"`
	JobID      string          `json:"jobId,omitempty"`
	Type       BackupType      `json:"type"`
	Format     BackupFormat    `json:"format"`
	Entries    []ManifestEntry `json:"entries"`
	Skipped    []string        `json:"skipped,omitempty"`
}

// ManifestEntry records one archived stream.
type ManifestEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// PackageResult is returned by the packager after publishing an artifact.
type PackageResult struct {
	File    BackupFile
	Skipped []string
}

// RestoreReport summarizes a committed restore.
type RestoreReport struct {
	Statements int           `json:"statements"`
	Tables     int           `json:"tables"`
	Rows       int           `json:"rows"`
	Duration   time.Duration `json:"durationMs"`
}

// BackupConfig is the engine configuration shared by the use cases.
type BackupConfig struct {
	StorageDir     string
	FilesRoot      string
	Location       *time.Location
	MaxJobDuration time.Duration
	Retention      RetentionPolicy
}

// RetentionPolicy controls the retention sweep.
type RetentionPolicy struct {
	SweepInterval time.Duration
	// IncludeManual subjects ad-hoc backups to ManualDays.
	IncludeManual bool
	ManualDays    int
}
