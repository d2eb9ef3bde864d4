package services

import (
	"bytes"
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"webpconverter/models"
)

type cachedArtifact struct {
	artifact models.Artifact
	data     []byte
}

// memoryReader keeps cached artifacts seekable so downloads can serve ranges.
type memoryReader struct {
	*bytes.Reader
}

func (memoryReader) Close() error { return nil }

// CachedStore serves recently downloaded small artifacts from memory.
type CachedStore struct {
	ArtifactStore
	cache    *lru.Cache[string, cachedArtifact]
	maxBytes int64
}

// NewCachedStore wraps store with an LRU of up to entries artifacts each no
// larger than maxBytes.
func NewCachedStore(store ArtifactStore, entries int, maxBytes int64) (*CachedStore, error) {
	cache, err := lru.New[string, cachedArtifact](entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact cache: %w", err)
	}
	return &CachedStore{ArtifactStore: store, cache: cache, maxBytes: maxBytes}, nil
}

func (c *CachedStore) Open(ctx context.Context, id string) (io.ReadCloser, models.Artifact, error) {
	if hit, ok := c.cache.Get(id); ok {
		return memoryReader{bytes.NewReader(hit.data)}, hit.artifact, nil
	}

	rc, artifact, err := c.ArtifactStore.Open(ctx, id)
	if err != nil {
		return nil, models.Artifact{}, err
	}
	if artifact.Size <= 0 || artifact.Size > c.maxBytes {
		return rc, artifact, nil
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, c.maxBytes+1))
	if err != nil {
		return nil, models.Artifact{}, fmt.Errorf("failed to read artifact: %w", err)
	}
	if int64(len(data)) <= c.maxBytes {
		c.cache.Add(id, cachedArtifact{artifact: artifact, data: data})
	}
	return memoryReader{bytes.NewReader(data)}, artifact, nil
}

func (c *CachedStore) Delete(ctx context.Context, id string) error {
	c.cache.Remove(id)
	return c.ArtifactStore.Delete(ctx, id)
}

func (c *CachedStore) Teardown(ctx context.Context) error {
	c.cache.Purge()
	return c.ArtifactStore.Teardown(ctx)
}
