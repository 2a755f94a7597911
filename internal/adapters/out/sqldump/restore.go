package sqldump

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/bnema/snapkeep/internal/domain"
)

// DefaultMaxRestoreSize bounds the snapshot read into memory.
const DefaultMaxRestoreSize = 512 * humanize.MByte

// sequenceInsertHead marks AUTOINCREMENT counter rows, which are not table rows.
var sequenceInsertHead = "INSERT INTO " + strings.ToUpper(quoteIdent(sequenceTable)) + " "

// Restorer replays SQL dumps into the live database.
type Restorer struct {
	db      *sql.DB
	maxSize int64
	log     zerolog.Logger
}

// NewRestorer creates a restorer. maxSize <= 0 uses DefaultMaxRestoreSize.
func NewRestorer(db *sql.DB, maxSize int64, log zerolog.Logger) *Restorer {
	if maxSize <= 0 {
		maxSize = DefaultMaxRestoreSize
	}
	return &Restorer{db: db, maxSize: maxSize, log: log.With().Str("component", "restore_engine").Logger()}
}

// Restore validates the whole snapshot, then applies it in one transaction.
// Either every statement commits or the database is left untouched.
func (r *Restorer) Restore(ctx context.Context, src io.Reader) (domain.RestoreReport, error) {
	start := time.Now()

	data, err := io.ReadAll(io.LimitReader(src, r.maxSize+1))
	if err != nil {
		return domain.RestoreReport{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) > r.maxSize {
		return domain.RestoreReport{}, fmt.Errorf("%w: snapshot exceeds %s",
			domain.ErrInvalidSnapshotFormat, humanize.Bytes(uint64(r.maxSize)))
	}

	stmts, err := ParseSnapshot(string(data))
	if err != nil {
		return domain.RestoreReport{}, err
	}

	report := domain.RestoreReport{Statements: len(stmts)}
	for _, stmt := range stmts {
		switch head := statementHead(stmt); {
		case strings.HasPrefix(head, "CREATE TABLE "):
			report.Tables++
		case strings.HasPrefix(head, sequenceInsertHead):
		case strings.HasPrefix(head, "INSERT INTO "):
			report.Rows++
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RestoreReport{}, fmt.Errorf("%w: begin transaction: %w", domain.ErrRestoreFailed, err)
	}
	// Dropped tables may be referenced by rows recreated later in the dump.
	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		_ = tx.Rollback()
		return domain.RestoreReport{}, fmt.Errorf("%w: %w", domain.ErrRestoreFailed, err)
	}

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error().Err(rbErr).Msg("rollback after failed restore statement")
			}
			r.log.Warn().Err(err).Int("statement", i+1).Msg("restore aborted")
			return domain.RestoreReport{}, &domain.StatementError{Index: i + 1, Statement: stmt, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.RestoreReport{}, fmt.Errorf("%w: commit: %w", domain.ErrRestoreFailed, err)
	}

	report.Duration = time.Since(start)
	r.log.Info().
		Int("statements", report.Statements).
		Int("tables", report.Tables).
		Int("rows", report.Rows).
		Dur("duration", report.Duration).
		Msg("restore committed")
	return report, nil
}
