package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/bnema/snapkeep/internal/boundaries/out"
	"github.com/bnema/snapkeep/internal/domain"
)

const (
	artifactPrefix  = "backup-"
	artifactDateFmt = "2006-01-02"
	tempPrefix      = ".tmp-"
	extSQL          = ".sql"
	extZip          = ".zip"

	// maxNameCollisions caps the same-day suffix search.
	maxNameCollisions = 1000
)

// BackupStorage implements backup artifact persistence on local filesystem.
// Artifacts are written to a temp file and only become visible once complete.
type BackupStorage struct {
	rootDir string
	log     zerolog.Logger

	// publishMu guards the rename fallback when hard links are unsupported.
	publishMu sync.Mutex
}

// NewBackupStorage creates a new filesystem backup storage.
func NewBackupStorage(rootDir string, log zerolog.Logger) (*BackupStorage, error) {
	rootDir = expandTilde(rootDir)

	if err := os.MkdirAll(rootDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &BackupStorage{rootDir: rootDir, log: log.With().Str("component", "archive_packager").Logger()}, nil
}

// Root returns the backup directory.
func (s *BackupStorage) Root() string {
	return s.rootDir
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsZipArtifact reports whether a request produces a zip rather than a bare SQL file.
func IsZipArtifact(req out.PackageRequest) bool {
	return req.Zip || req.Type != domain.BackupTypeDatabase || req.Format != domain.BackupFormatSQL
}

// Package writes streams into a new artifact and publishes it atomically.
// Read errors from the streams are returned unchanged; disk errors wrap
// domain.ErrArtifactWriteFailed. Nothing is published if ctx is done.
func (s *BackupStorage) Package(ctx context.Context, req out.PackageRequest, streams ...domain.NamedStream) (domain.PackageResult, error) {
	if !req.Type.Valid() || !req.Format.Valid() {
		return domain.PackageResult{}, fmt.Errorf("invalid package request: type %q format %q", req.Type, req.Format)
	}
	zipped := IsZipArtifact(req)
	ext := extSQL
	if zipped {
		ext = extZip
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	tmp, err := os.CreateTemp(s.rootDir, tempPrefix+"*"+ext)
	if err != nil {
		return domain.PackageResult{}, fmt.Errorf("%w: create temp file: %w", domain.ErrArtifactWriteFailed, err)
	}
	tmpPath := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = tmp.Close()
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				s.log.Warn().Err(rmErr).Str("path", tmpPath).Msg("failed to remove temp artifact")
			}
		}
	}()

	var skipped []string
	if zipped {
		skipped, err = s.writeZip(ctx, tmp, req, streams)
	} else {
		err = writeSingle(ctx, tmp, streams)
	}
	if err != nil {
		return domain.PackageResult{}, err
	}

	if err := tmp.Sync(); err != nil {
		return domain.PackageResult{}, fmt.Errorf("%w: sync: %w", domain.ErrArtifactWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.PackageResult{}, fmt.Errorf("%w: close: %w", domain.ErrArtifactWriteFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return domain.PackageResult{}, fmt.Errorf("artifact not published: %w", err)
	}

	base := artifactPrefix + req.Timestamp.Format(artifactDateFmt)
	finalPath, err := s.publish(tmpPath, base, ext)
	if err != nil {
		return domain.PackageResult{}, err
	}
	published = true

	file, err := s.describe(finalPath)
	if err != nil {
		return domain.PackageResult{}, fmt.Errorf("%w: stat published artifact: %w", domain.ErrArtifactWriteFailed, err)
	}
	file.Type = req.Type
	file.Format = req.Format
	file.ScheduleID = req.ScheduleID
	file.JobID = req.JobID

	s.log.Info().
		Str("filename", file.Filename).
		Int64("size", file.Size).
		Int("skipped", len(skipped)).
		Msg("artifact published")

	return domain.PackageResult{File: file, Skipped: skipped}, nil
}

func writeSingle(ctx context.Context, dst io.Writer, streams []domain.NamedStream) error {
	if len(streams) != 1 {
		return fmt.Errorf("sql artifact needs exactly one stream, got %d", len(streams))
	}
	rc, err := streams[0].Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = copyStream(ctx, dst, rc)
	return err
}

func (s *BackupStorage) writeZip(ctx context.Context, dst io.Writer, req out.PackageRequest, streams []domain.NamedStream) ([]string, error) {
	zw := zip.NewWriter(dst)
	manifest := domain.Manifest{
		Version:    domain.ManifestVersion,
		CreatedAt:  req.Timestamp.UTC(),
		ScheduleID: req.ScheduleID,
		JobID:      req.JobID,
		Type:       req.Type,
		Format:     req.Format,
		Entries:    make([]domain.ManifestEntry, 0, len(streams)),
	}

	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rc, err := stream.Open()
		if err != nil {
			if stream.Optional && errors.Is(err, fs.ErrNotExist) {
				s.log.Warn().Str("entry", stream.Name).Msg("file vanished before packaging, skipping")
				manifest.Skipped = append(manifest.Skipped, stream.Name)
				continue
			}
			return nil, err
		}

		modified := stream.ModTime
		if modified.IsZero() {
			modified = req.Timestamp
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: stream.Name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("%w: zip entry %s: %w", domain.ErrArtifactWriteFailed, stream.Name, err)
		}

		h := sha256.New()
		n, err := copyStream(ctx, io.MultiWriter(w, h), rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		manifest.Entries = append(manifest.Entries, domain.ManifestEntry{
			Name:   stream.Name,
			Size:   n,
			SHA256: hex.EncodeToString(h.Sum(nil)),
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	w, err := zw.Create(domain.ManifestName)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest entry: %w", domain.ErrArtifactWriteFailed, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: manifest entry: %w", domain.ErrArtifactWriteFailed, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalize zip: %w", domain.ErrArtifactWriteFailed, err)
	}
	return manifest.Skipped, nil
}

// copyStream copies src into dst, keeping read errors as they are and
// wrapping write errors in domain.ErrArtifactWriteFailed.
func copyStream(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	ew := &errWriter{w: dst}
	n, err := io.Copy(ew, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		if ew.err != nil {
			return n, fmt.Errorf("%w: %w", domain.ErrArtifactWriteFailed, ew.err)
		}
		return n, err
	}
	return n, nil
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// publish links tmpPath to the first free name for base and removes the temp
// file. Existing artifacts are never overwritten.
func (s *BackupStorage) publish(tmpPath, base, ext string) (string, error) {
	for i := 1; i <= maxNameCollisions; i++ {
		name := base + ext
		if i > 1 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		finalPath := filepath.Join(s.rootDir, name)

		err := os.Link(tmpPath, finalPath)
		switch {
		case err == nil:
			if rmErr := os.Remove(tmpPath); rmErr != nil {
				s.log.Warn().Err(rmErr).Str("path", tmpPath).Msg("failed to remove temp artifact after publish")
			}
			return finalPath, nil
		case errors.Is(err, fs.ErrExist):
			continue
		}

		ok, err := s.renameIfFree(tmpPath, finalPath)
		if err != nil {
			return "", fmt.Errorf("%w: publish: %w", domain.ErrArtifactWriteFailed, err)
		}
		if ok {
			return finalPath, nil
		}
	}
	return "", fmt.Errorf("%w: too many artifacts named %s", domain.ErrArtifactWriteFailed, base)
}

func (s *BackupStorage) renameIfFree(tmpPath, finalPath string) (bool, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if _, err := os.Lstat(finalPath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return false, err
	}
	return true, nil
}

// List returns published artifacts, newest first. Temp files are never listed.
func (s *BackupStorage) List(_ context.Context) ([]domain.BackupFile, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.BackupFile{}, nil
		}
		return nil, err
	}

	files := make([]domain.BackupFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactName(entry.Name()) {
			continue
		}
		file, err := s.describe(filepath.Join(s.rootDir, entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].Created.Equal(files[j].Created) {
			return files[i].Created.After(files[j].Created)
		}
		return files[i].Filename > files[j].Filename
	})
	return files, nil
}

// Open returns a reader over a published artifact.
func (s *BackupStorage) Open(_ context.Context, filename string) (io.ReadCloser, domain.BackupFile, error) {
	path, err := s.artifactPath(filename)
	if err != nil {
		return nil, domain.BackupFile{}, err
	}
	file, err := s.describe(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.BackupFile{}, fmt.Errorf("%w: %s", domain.ErrBackupNotFound, filename)
		}
		return nil, domain.BackupFile{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.BackupFile{}, fmt.Errorf("%w: %s", domain.ErrBackupNotFound, filename)
		}
		return nil, domain.BackupFile{}, err
	}
	return f, file, nil
}

// Latest returns the newest artifact of the given format. For SQL that is
// the newest bare .sql file.
func (s *BackupStorage) Latest(ctx context.Context, format domain.BackupFormat) (domain.BackupFile, error) {
	files, err := s.List(ctx)
	if err != nil {
		return domain.BackupFile{}, err
	}
	for _, f := range files {
		if f.Format != format {
			continue
		}
		if format == domain.BackupFormatSQL && !strings.HasSuffix(f.Filename, extSQL) {
			continue
		}
		return f, nil
	}
	return domain.BackupFile{}, fmt.Errorf("%w: no %s artifact", domain.ErrBackupNotFound, format)
}

// Delete removes a published artifact.
func (s *BackupStorage) Delete(_ context.Context, filename string) error {
	path, err := s.artifactPath(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", domain.ErrBackupNotFound, filename)
		}
		return err
	}
	return nil
}

// ReadManifest decodes the manifest of a zip artifact. Bare SQL artifacts
// have no manifest and yield nil.
func (s *BackupStorage) ReadManifest(_ context.Context, filename string) (*domain.Manifest, error) {
	path, err := s.artifactPath(filename)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(filename, extZip) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBackupNotFound, filename)
		}
		return nil, nil
	}
	return readManifest(path)
}

// CleanupTemp removes temp files left behind by an interrupted process.
func (s *BackupStorage) CleanupTemp(_ context.Context) (int, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.rootDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("count", removed).Msg("removed stale temp artifacts")
	}
	return removed, nil
}

func (s *BackupStorage) artifactPath(filename string) (string, error) {
	if filename == "" || filepath.Base(filename) != filename || !isArtifactName(filename) {
		return "", fmt.Errorf("%w: invalid artifact name %q", domain.ErrBackupNotFound, filename)
	}
	path := filepath.Join(s.rootDir, filename)
	if !pathWithinRoot(s.rootDir, path) {
		return "", fmt.Errorf("backup path escapes storage root")
	}
	return path, nil
}

func (s *BackupStorage) describe(path string) (domain.BackupFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.BackupFile{}, err
	}
	file := domain.BackupFile{
		Filename: info.Name(),
		Size:     info.Size(),
		Created:  info.ModTime().UTC(),
		Modified: info.ModTime().UTC(),
	}

	if strings.HasSuffix(file.Filename, extSQL) {
		file.Type = domain.BackupTypeDatabase
		file.Format = domain.BackupFormatSQL
		return file, nil
	}

	manifest, err := readManifest(path)
	if err != nil {
		s.log.Warn().Err(err).Str("filename", file.Filename).Msg("unreadable artifact manifest")
		return file, nil
	}
	file.Type = manifest.Type
	file.Format = manifest.Format
	file.ScheduleID = manifest.ScheduleID
	file.JobID = manifest.JobID
	if !manifest.CreatedAt.IsZero() {
		file.Created = manifest.CreatedAt.UTC()
	}
	return file, nil
}

func readManifest(path string) (*domain.Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBackupNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != domain.ManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open manifest: %w", err)
		}
		defer rc.Close()

		var manifest domain.Manifest
		if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		return &manifest, nil
	}
	return nil, fmt.Errorf("manifest missing from %s", filepath.Base(path))
}

func isArtifactName(name string) bool {
	return strings.HasPrefix(name, artifactPrefix) &&
		(strings.HasSuffix(name, extSQL) || strings.HasSuffix(name, extZip))
}

func pathWithinRoot(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	rootClean := filepath.Clean(rootAbs)
	pathClean := filepath.Clean(pathAbs)
	rel, err := filepath.Rel(rootClean, pathClean)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
