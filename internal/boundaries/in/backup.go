package in

import (
	"context"
	"io"

	"github.com/bnema/snapkeep/internal/domain"
)

// BackupService defines backup orchestration use cases.
type BackupService interface {
	Execute(ctx context.Context, cmd domain.Command) (*domain.CommandResult, error)
	RunSchedule(ctx context.Context, scheduleID string, trigger domain.JobTrigger) (*domain.BackupJob, error)
	RunManual(ctx context.Context, backupType domain.BackupType, format domain.BackupFormat) (*domain.BackupJob, error)
	Restore(ctx context.Context, r io.Reader, filename string) (*domain.BackupJob, *domain.RestoreReport, error)

	ListSchedules(ctx context.Context) ([]domain.BackupSchedule, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.BackupJob, error)
	ListBackups(ctx context.Context) ([]domain.BackupFile, error)
	OpenBackup(ctx context.Context, filename string) (io.ReadCloser, domain.BackupFile, error)
	LatestBackup(ctx context.Context, format domain.BackupFormat) (io.ReadCloser, domain.BackupFile, error)
}
