package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bnema/snapkeep/internal/domain"
)

// FilesPrefix is the directory inside zip artifacts holding the file tree.
const FilesPrefix = "files/"

// FileTree lists the files bundled into FILES and FULL backups.
type FileTree struct {
	root    string
	exclude []string
	log     zerolog.Logger

	// visit, when set, runs before each file is stat'ed.
	visit func(path string)
}

// NewFileTree creates a walker over root. Paths in exclude (the backup
// directory, the status database) are skipped.
func NewFileTree(root string, log zerolog.Logger, exclude ...string) *FileTree {
	abs := make([]string, 0, len(exclude))
	for _, dir := range exclude {
		if dir == "" {
			continue
		}
		if a, err := filepath.Abs(expandTilde(dir)); err == nil {
			abs = append(abs, a)
		}
	}
	return &FileTree{
		root:    expandTilde(root),
		exclude: abs,
		log:     log.With().Str("component", "file_tree").Logger(),
	}
}

// Streams walks the tree and returns lazily opened, name-sorted streams.
// Entries that disappear during the walk are returned as optional streams
// whose Open fails with fs.ErrNotExist, so the packager records them as skipped.
func (t *FileTree) Streams(ctx context.Context) ([]domain.NamedStream, error) {
	if t.root == "" {
		return nil, fmt.Errorf("%w: files root is not configured", domain.ErrDumpFailed)
	}
	if _, err := os.Stat(t.root); err != nil {
		return nil, fmt.Errorf("%w: files root: %w", domain.ErrDumpFailed, err)
	}

	var streams []domain.NamedStream
	vanished := func(path string) error {
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		t.log.Debug().Str("path", path).Msg("entry vanished during walk")
		streams = append(streams, domain.NamedStream{
			Name: FilesPrefix + filepath.ToSlash(rel),
			Open: func() (io.ReadCloser, error) {
				return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
			},
			Optional: true,
		})
		return nil
	}

	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return vanished(path)
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if t.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || t.excluded(path) {
			return nil
		}

		if t.visit != nil {
			t.visit(path)
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return vanished(path)
			}
			return err
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}

		filePath := path
		streams = append(streams, domain.NamedStream{
			Name:    FilesPrefix + filepath.ToSlash(rel),
			ModTime: info.ModTime(),
			Open: func() (io.ReadCloser, error) {
				return os.Open(filePath)
			},
			Optional: true,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk files: %w", domain.ErrDumpFailed, err)
	}

	sort.Slice(streams, func(i, j int) bool { return streams[i].Name < streams[j].Name })
	return streams, nil
}

func (t *FileTree) excluded(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range t.exclude {
		if abs == dir {
			return true
		}
	}
	return false
}
