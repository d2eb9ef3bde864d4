package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/image/webp"

	"webpconverter/config"
	"webpconverter/models"
	"webpconverter/services"
)

func testConfig() *config.Config {
	return &config.Config{
		AcceptedExtensions: []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".heic", ".webp"},
		MaxFileSize:        10 << 20,
		MaxFiles:           3,
		MaxPixels:          50_000_000,
		DownsampleBound:    2048,
		ReducedQuality:     75,
		DefaultQuality:     90,
		TierThreshold:      1024,
		TierQuality:        80,
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func item(name string, data []byte) models.UploadItem {
	return models.UploadItem{
		Filename: name,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// countingStore counts allocations and can be told to fail every commit.
type countingStore struct {
	services.ArtifactStore
	allocations atomic.Int32
	commits     atomic.Int32
	commitErr   error
}

func (c *countingStore) Allocate(ctx context.Context, name string) (string, error) {
	c.allocations.Add(1)
	return c.ArtifactStore.Allocate(ctx, name)
}

func (c *countingStore) Commit(ctx context.Context, id string, r io.Reader) (models.Artifact, error) {
	c.commits.Add(1)
	if c.commitErr != nil {
		return models.Artifact{}, c.commitErr
	}
	return c.ArtifactStore.Commit(ctx, id, r)
}

func newTestStore(t *testing.T, nameSuffix bool) *countingStore {
	t.Helper()

	store, err := services.NewTempStore(nameSuffix, discardLogger())
	if err != nil {
		t.Fatalf("NewTempStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Teardown(context.Background()) })
	return &countingStore{ArtifactStore: store}
}

func newTestConverter(t *testing.T, store services.ArtifactStore, workers int) *BatchConverter {
	t.Helper()

	cfg := testConfig()
	pool := NewPool(workers, discardLogger())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	return NewBatchConverter(BatchDeps{
		Validator:    services.NewValidator(cfg),
		Codec:        services.NewCodec(services.CodecOptionsFromConfig(cfg), discardLogger()),
		Store:        store,
		Pool:         pool,
		Logger:       discardLogger(),
		Timeout:      10 * time.Second,
		MaxDimension: cfg.DownsampleBound,
		MaxRetries:   1,
		RetryBase:    time.Millisecond,
	})
}

func TestBatchConverter_MixedBatch(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, false)
	conv := newTestConverter(t, store, 2)

	items := []models.UploadItem{
		item("photo.png", pngBytes(t, 40, 30)),
		item("notes.png", []byte("this is a text file with a png extension")),
		item("anim.gif", []byte("GIF89a")),
	}

	result, err := conv.Convert(context.Background(), items, 0)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if result.Outcome() != OutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", result.Outcome())
	}
	if len(result.Converted) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(result.Converted))
	}
	if len(result.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", result.Failures)
	}

	reasons := map[string]ItemFailure{}
	for _, f := range result.Failures {
		reasons[f.Filename] = f
	}
	if f := reasons["anim.gif"]; f.Reason != string(models.ReasonUnsupportedFormat) || !f.ClientFault {
		t.Errorf("unexpected gif failure %+v", f)
	}
	if f := reasons["notes.png"]; f.Reason != string(services.KindNotAnImage) || !f.ClientFault {
		t.Errorf("unexpected text failure %+v", f)
	}
	if got := store.allocations.Load(); got != 2 {
		t.Errorf("expected allocations only for accepted items, got %d", got)
	}

	rc, artifact, err := store.Open(context.Background(), result.Converted[0].ID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	if artifact.ContentType != models.WebPContentType {
		t.Errorf("unexpected content type %q", artifact.ContentType)
	}
	cfg, err := webp.DecodeConfig(rc)
	if err != nil {
		t.Fatalf("artifact is not webp: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 30 {
		t.Errorf("expected 40x30, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestBatchConverter_PreservesSubmissionOrder(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, true)
	conv := newTestConverter(t, store, 3)

	// The first image is the largest so it tends to finish last.
	items := []models.UploadItem{
		item("first.png", pngBytes(t, 300, 300)),
		item("second.png", pngBytes(t, 8, 8)),
		item("third.png", pngBytes(t, 4, 4)),
	}

	result, err := conv.Convert(context.Background(), items, 0)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(result.Converted) != 3 {
		t.Fatalf("expected 3 artifacts, got %d (%+v)", len(result.Converted), result.Failures)
	}
	for i, stem := range []string{"first", "second", "third"} {
		if !strings.HasSuffix(result.Converted[i].ID, "_"+stem+".webp") {
			t.Errorf("artifact %d: expected %s, got %s", i, stem, result.Converted[i].ID)
		}
	}
}

func TestBatchConverter_BatchRejections(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, false)
	conv := newTestConverter(t, store, 1)
	data := pngBytes(t, 4, 4)

	tooMany := []models.UploadItem{
		item("a.png", data), item("b.png", data), item("c.png", data), item("d.png", data),
	}
	_, err := conv.Convert(context.Background(), tooMany, 0)
	if !errors.Is(err, services.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	var rejectErr *services.RejectError
	if !errors.As(err, &rejectErr) || rejectErr.Verdict.Reason != models.ReasonBatchTooLarge {
		t.Fatalf("expected batch-too-large verdict, got %v", err)
	}

	_, err = conv.Convert(context.Background(), nil, 0)
	if !errors.Is(err, services.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}

	if got := store.allocations.Load(); got != 0 {
		t.Fatalf("expected no identifiers allocated for rejected batches, got %d", got)
	}
}

func TestBatchConverter_AllInvalid(t *testing.T) {
	t.Parallel()

	conv := newTestConverter(t, newTestStore(t, false), 1)

	result, err := conv.Convert(context.Background(), []models.UploadItem{
		item("a.gif", []byte("GIF89a")),
		item("b.jpg", []byte("not a jpeg")),
	}, 0)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if result.Outcome() != OutcomeClientFailure {
		t.Fatalf("expected client failure outcome, got %s", result.Outcome())
	}
}

func TestBatchConverter_StorageFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, false)
	store.commitErr = errors.New("disk full")
	conv := newTestConverter(t, store, 1)

	result, err := conv.Convert(context.Background(), []models.UploadItem{
		item("a.png", pngBytes(t, 8, 8)),
	}, 0)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if result.Outcome() != OutcomeServerFailure {
		t.Fatalf("expected server failure outcome, got %s", result.Outcome())
	}
	if got := store.commits.Load(); got != 2 {
		t.Fatalf("expected commit retried once, got %d attempts", got)
	}
	if result.Failures[0].ClientFault {
		t.Fatal("storage failures are not client faults")
	}
}

func TestBatchConverter_StagesAndCleansUploads(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	uploads := filepath.Join(root, "uploads")
	disk, err := services.NewDiskStore(uploads, filepath.Join(root, "output"), false, discardLogger())
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}

	conv := newTestConverter(t, disk, 2)
	conv.Stager = disk

	result, err := conv.Convert(context.Background(), []models.UploadItem{
		item("a.png", pngBytes(t, 8, 8)),
		item("b.png", []byte("garbage")),
	}, 70)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(result.Converted) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(result.Converted))
	}

	entries, err := os.ReadDir(uploads)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected staged uploads removed, found %d", len(entries))
	}
}

func TestBatchConverter_ConcurrentBatchesGetUniqueIDs(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, false)
	conv := newTestConverter(t, store, 4)
	data := pngBytes(t, 16, 16)

	var (
		mu  sync.Mutex
		ids = map[string]bool{}
		wg  sync.WaitGroup
	)
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := conv.Convert(context.Background(), []models.UploadItem{
				item("same.png", data), item("same.png", data),
			}, 0)
			if err != nil {
				errs <- err
				return
			}
			if len(result.Converted) != 2 {
				errs <- fmt.Errorf("expected 2 artifacts, got %d", len(result.Converted))
				return
			}
			mu.Lock()
			for _, a := range result.Converted {
				ids[a.ID] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if len(ids) != 10 {
		t.Fatalf("expected 10 distinct artifacts, got %d", len(ids))
	}
}
