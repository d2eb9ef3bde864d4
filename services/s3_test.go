package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"webpconverter/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func response(r *http.Request, status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        header,
		Request:       r,
	}
}

const noSuchKeyBody = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

// fakeS3 is a tiny in-memory object store speaking just enough of the S3
// REST API for HEAD, GET and PUT.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) roundTrip(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.URL.Path
	switch r.Method {
	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			return response(r, http.StatusNotFound, "", nil), nil
		}
		h := make(http.Header)
		h.Set("Content-Length", strconv.Itoa(len(data)))
		return response(r, http.StatusOK, "", h), nil
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			return response(r, http.StatusNotFound, noSuchKeyBody, nil), nil
		}
		return response(r, http.StatusOK, string(data), nil), nil
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		h := make(http.Header)
		h.Set("ETag", `"etag"`)
		return response(r, http.StatusOK, "", h), nil
	}
	return response(r, http.StatusMethodNotAllowed, "", nil), nil
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	cfg := &config.Config{
		S3Bucket:       "bucket",
		S3Prefix:       "artifacts/",
		S3Region:       "us-east-1",
		AWSS3AccessKey: "key",
		AWSS3SecretKey: "secret",
		S3Endpoint:     "http://s3.example.invalid",
		S3UsePathStyle: true,
	}
	store, err := NewS3Store(cfg, &http.Client{Transport: roundTripFunc(fake.roundTrip)}, discardLogger())
	if err != nil {
		t.Fatalf("NewS3Store failed: %v", err)
	}
	return store, fake
}

func TestS3Store_CommitOpen(t *testing.T) {
	t.Parallel()

	store, fake := newTestS3Store(t)
	ctx := context.Background()

	id, err := store.Allocate(ctx, "photo.png")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	artifact, err := store.Commit(ctx, id, bytes.NewReader([]byte("RIFFwebp")))
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if artifact.Size != 8 {
		t.Fatalf("expected 8 bytes, got %d", artifact.Size)
	}

	objectPath := "/bucket/artifacts/" + id
	if got := fake.types[objectPath]; got != "image/webp" {
		t.Fatalf("expected image/webp content type, got %q (objects: %v)", got, fake.objects)
	}

	rc, _, err := store.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "RIFFwebp" {
		t.Fatalf("unexpected payload %q", data)
	}
}

func TestS3Store_CommitRefusesExisting(t *testing.T) {
	t.Parallel()

	store, fake := newTestS3Store(t)
	id := NewIdentifier("a.png", false)
	fake.objects["/bucket/artifacts/"+id] = []byte("x")

	_, err := store.Commit(context.Background(), id, strings.NewReader("y"))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestS3Store_OpenMissing(t *testing.T) {
	t.Parallel()

	store, _ := newTestS3Store(t)

	if _, _, err := store.Open(context.Background(), NewIdentifier("a.png", false)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Open(context.Background(), "../escape"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for invalid id, got %v", err)
	}
}
