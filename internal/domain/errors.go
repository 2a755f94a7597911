package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Schedule errors
	ErrInvalidScheduleExpression = errors.New("invalid schedule expression")
	ErrScheduleNotFound          = errors.New("schedule not found")

	// Job errors
	ErrAlreadyRunning = errors.New("a job is already running for this schedule")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobFinished    = errors.New("job already finished")
	ErrTimeout        = errors.New("job exceeded maximum duration")

	// Dump and artifact errors
	ErrDumpFailed          = errors.New("dump failed")
	ErrArtifactWriteFailed = errors.New("artifact write failed")
	ErrBackupNotFound      = errors.New("backup not found")

	// Restore errors
	ErrInvalidSnapshotFormat = errors.New("invalid snapshot format")
	ErrRestoreFailed         = errors.New("restore failed")

	// Retention errors
	ErrRetentionSweepPartialFailure = errors.New("retention sweep partially failed")

	// Command errors
	ErrInvalidCommand = errors.New("invalid command")
)

// StatementError reports the statement that aborted a restore.
type StatementError struct {
	// Index is 1-based.
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("restore failed at statement %d: %v", e.Index, e.Err)
}

// Unwrap exposes both the driver error and ErrRestoreFailed to errors.Is.
func (e *StatementError) Unwrap() []error {
	return []error{ErrRestoreFailed, e.Err}
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrTimeout, "Timeout"},
	{ErrAlreadyRunning, "AlreadyRunning"},
	{ErrInvalidScheduleExpression, "InvalidScheduleExpression"},
	{ErrInvalidSnapshotFormat, "InvalidSnapshotFormat"},
	{ErrRestoreFailed, "RestoreFailed"},
	{ErrDumpFailed, "DumpFailed"},
	{ErrArtifactWriteFailed, "ArtifactWriteFailed"},
	{ErrRetentionSweepPartialFailure, "RetentionSweepPartialFailure"},
	{ErrScheduleNotFound, "ScheduleNotFound"},
	{ErrJobNotFound, "JobNotFound"},
	{ErrJobFinished, "JobFinished"},
	{ErrBackupNotFound, "BackupNotFound"},
	{ErrInvalidCommand, "InvalidCommand"},
}

// ErrorKind maps err to the name of its domain error kind, or "Internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}

// JobError renders the human-readable job error: "<kind>: <cause>".
func JobError(err error) string {
	if err == nil {
		return ""
	}
	return ErrorKind(err) + ": " + err.Error()
}
