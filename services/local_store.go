package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"webpconverter/models"
)

const (
	partialPrefix = ".partial-"
	stagedSuffix  = ".upload"
)

// LocalStore keeps artifacts in a directory on the local filesystem.
type LocalStore struct {
	outputDir  string
	ephemeral  bool
	nameSuffix bool
	logger     *slog.Logger
}

// NewTempStore creates a holding area in a fresh temporary directory that
// Teardown removes.
func NewTempStore(nameSuffix bool, logger *slog.Logger) (*LocalStore, error) {
	dir, err := os.MkdirTemp("", "webpconverter-")
	if err != nil {
		return nil, fmt.Errorf("failed to create holding area: %w", err)
	}
	return newLocalStore(dir, true, nameSuffix, logger), nil
}

func newLocalStore(dir string, ephemeral, nameSuffix bool, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{outputDir: dir, ephemeral: ephemeral, nameSuffix: nameSuffix, logger: logger}
}

// Dir is the directory artifacts are written to.
func (s *LocalStore) Dir() string {
	return s.outputDir
}

func (s *LocalStore) Allocate(ctx context.Context, originalName string) (string, error) {
	for attempt := 0; attempt < allocateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id := NewIdentifier(originalName, s.nameSuffix)
		_, err := os.Lstat(filepath.Join(s.outputDir, id))
		if errors.Is(err, fs.ErrNotExist) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check artifact %s: %w", id, err)
		}
		s.logger.Warn("identifier collision, retrying", "artifact", id)
	}
	return "", fmt.Errorf("failed to allocate identifier after %d attempts: %w", allocateAttempts, ErrExists)
}

// Commit writes to a hidden partial file and hard-links it into place, so the
// final name either does not exist or holds the complete artifact.
func (s *LocalStore) Commit(ctx context.Context, id string, r io.Reader) (models.Artifact, error) {
	if !ValidIdentifier(id) {
		return models.Artifact{}, fmt.Errorf("invalid artifact id %q", id)
	}
	if err := ctx.Err(); err != nil {
		return models.Artifact{}, err
	}
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return models.Artifact{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.outputDir, partialPrefix+"*")
	if err != nil {
		return models.Artifact{}, fmt.Errorf("failed to create partial file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return models.Artifact{}, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return models.Artifact{}, fmt.Errorf("failed to close artifact: %w", err)
	}

	final := filepath.Join(s.outputDir, id)
	if err := os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return models.Artifact{}, fmt.Errorf("commit %s: %w", id, ErrExists)
		}
		return models.Artifact{}, fmt.Errorf("failed to publish artifact: %w", err)
	}

	info, err := os.Stat(final)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return artifactFromInfo(id, info), nil
}

func (s *LocalStore) Open(ctx context.Context, id string) (io.ReadCloser, models.Artifact, error) {
	if !ValidIdentifier(id) {
		return nil, models.Artifact{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, models.Artifact{}, err
	}

	f, err := os.Open(filepath.Join(s.outputDir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.Artifact{}, ErrNotFound
	}
	if err != nil {
		return nil, models.Artifact{}, fmt.Errorf("failed to open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, models.Artifact{}, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return f, artifactFromInfo(id, info), nil
}

func (s *LocalStore) Delete(ctx context.Context, id string) error {
	if !ValidIdentifier(id) {
		return ErrNotFound
	}
	err := os.Remove(filepath.Join(s.outputDir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// Teardown removes the whole holding area when it is a temporary one. A
// directory that is already gone is not an error.
func (s *LocalStore) Teardown(ctx context.Context) error {
	if !s.ephemeral {
		s.logger.Info("keeping persistent output directory", "dir", s.outputDir)
		return nil
	}
	if err := os.RemoveAll(s.outputDir); err != nil {
		return fmt.Errorf("failed to remove holding area %s: %w", s.outputDir, err)
	}
	s.logger.Info("holding area removed", "dir", s.outputDir)
	return nil
}

// Sweep removes partial files older than olderThan. Committed artifacts are
// never touched.
func (s *LocalStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	return sweepDir(s.outputDir, olderThan, func(name string) bool {
		return strings.HasPrefix(name, partialPrefix)
	})
}

// DiskStore is the disk-backed deployment: uploads are staged in their own
// directory before conversion and neither directory is cleared on shutdown.
type DiskStore struct {
	*LocalStore
	uploadDir string
}

func NewDiskStore(uploadDir, outputDir string, nameSuffix bool, logger *slog.Logger) (*DiskStore, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &DiskStore{
		LocalStore: newLocalStore(outputDir, false, nameSuffix, logger),
		uploadDir:  uploadDir,
	}, nil
}

// Stage writes the raw upload for id into the upload directory.
func (s *DiskStore) Stage(ctx context.Context, id string, r io.Reader) (string, error) {
	if !ValidIdentifier(id) {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	path := filepath.Join(s.uploadDir, strings.TrimSuffix(id, artifactExt)+stagedSuffix)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create staged upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close staged upload: %w", err)
	}
	return path, nil
}

func (s *DiskStore) RemoveStaged(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep also collects staged uploads whose request never finished.
func (s *DiskStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	partials, err := s.LocalStore.Sweep(ctx, olderThan)
	if err != nil {
		return partials, err
	}
	staged, err := sweepDir(s.uploadDir, olderThan, func(name string) bool {
		return strings.HasSuffix(name, stagedSuffix)
	})
	return partials + staged, err
}

func sweepDir(dir string, olderThan time.Duration, match func(string) bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func artifactFromInfo(id string, info fs.FileInfo) models.Artifact {
	return models.Artifact{
		ID:          id,
		Size:        info.Size(),
		ContentType: models.WebPContentType,
		ModTime:     info.ModTime(),
	}
}
