package out

import (
	"context"
	"io"
	"time"

	"github.com/bnema/snapkeep/internal/domain"
)

// PackageRequest describes the artifact the packager should produce.
type PackageRequest struct {
	Type       domain.BackupType
	Format     domain.BackupFormat
	ScheduleID string
	JobID      string
	Timestamp  time.Time
	// Zip forces a zip artifact even for a lone SQL dump.
	Zip bool
}

// BackupStorage defines persistence for backup artifacts.
type BackupStorage interface {
	Package(ctx context.Context, req PackageRequest, streams ...domain.NamedStream) (domain.PackageResult, error)
	List(ctx context.Context) ([]domain.BackupFile, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, domain.BackupFile, error)
	Latest(ctx context.Context, format domain.BackupFormat) (domain.BackupFile, error)
	Delete(ctx context.Context, filename string) error
	ReadManifest(ctx context.Context, filename string) (*domain.Manifest, error)
	CleanupTemp(ctx context.Context) (int, error)
}

// FileSource enumerates the file tree included in FILES and FULL backups.
type FileSource interface {
	Streams(ctx context.Context) ([]domain.NamedStream, error)
}
