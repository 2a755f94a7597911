package out

import (
	"context"
	"io"

	"github.com/bnema/snapkeep/internal/domain"
)

// Dumper produces a logical snapshot of the live database.
type Dumper interface {
	// Dump streams the snapshot. A failure mid-stream surfaces as a read
	// error wrapping domain.ErrDumpFailed.
	Dump(ctx context.Context, format domain.BackupFormat) (io.ReadCloser, error)
}

// Restorer replays a SQL snapshot into the live database.
type Restorer interface {
	Restore(ctx context.Context, r io.Reader) (domain.RestoreReport, error)
}
