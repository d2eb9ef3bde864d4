package services

import (
	"context"
	"io"
	"time"

	"webpconverter/models"
)

// ArtifactStore is the holding area for converted artifacts.
type ArtifactStore interface {
	// Allocate returns an identifier that no artifact currently uses.
	Allocate(ctx context.Context, originalName string) (string, error)
	// Commit stores the artifact under id. It fails with ErrExists rather
	// than overwrite, and the artifact is not visible to Open until Commit
	// has returned successfully.
	Commit(ctx context.Context, id string, r io.Reader) (models.Artifact, error)
	// Open returns ErrNotFound for ids that were never committed or were removed.
	Open(ctx context.Context, id string) (io.ReadCloser, models.Artifact, error)
	Delete(ctx context.Context, id string) error
	// Teardown releases the holding area on shutdown.
	Teardown(ctx context.Context) error
}

// Stager is implemented by stores that write uploads to disk before they are
// converted.
type Stager interface {
	Stage(ctx context.Context, id string, r io.Reader) (string, error)
	RemoveStaged(path string) error
}

// Sweeper is implemented by stores that can collect files orphaned by
// interrupted requests.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)
}
