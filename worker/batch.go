package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"webpconverter/models"
	"webpconverter/reqmeta"
	"webpconverter/services"
)

// ItemFailure is an item of a batch that did not produce an artifact.
type ItemFailure struct {
	Filename    string
	Reason      string
	ClientFault bool
	Err         error
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeClientFailure
	OutcomeServerFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "partial-or-full-success"
	case OutcomeClientFailure:
		return "all-failed-client"
	case OutcomeServerFailure:
		return "all-failed-server"
	default:
		return "unknown"
	}
}

// BatchResult lists the artifacts of a batch in submission order and the
// items that were skipped.
type BatchResult struct {
	Converted []models.Artifact
	Failures  []ItemFailure
}

func (r BatchResult) Outcome() Outcome {
	if len(r.Converted) > 0 {
		return OutcomeSuccess
	}
	for _, f := range r.Failures {
		if !f.ClientFault {
			return OutcomeServerFailure
		}
	}
	return OutcomeClientFailure
}

type BatchDeps struct {
	Validator *services.Validator
	Codec     *services.Codec
	Store     services.ArtifactStore
	// Stager, when set, writes each upload to disk before conversion.
	Stager   services.Stager
	Pool     *Pool
	Recorder services.Recorder
	Metrics  *services.Metrics
	Logger   *slog.Logger

	Timeout      time.Duration
	MaxDimension int
	MaxRetries   int
	// RetryBase scales the commit backoff; zero means one second.
	RetryBase time.Duration
}

// BatchConverter runs one upload batch through validation, conversion and
// storage.
type BatchConverter struct {
	BatchDeps
}

func NewBatchConverter(deps BatchDeps) *BatchConverter {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Pool == nil {
		deps.Pool = NewPool(0, deps.Logger)
	}
	if deps.RetryBase <= 0 {
		deps.RetryBase = time.Second
	}
	return &BatchConverter{BatchDeps: deps}
}

type jobResult struct {
	artifact models.Artifact
	result   services.ConvertResult
	err      error
}

// Convert processes every item of the batch. Batch-level rejections come back
// as a *services.RejectError and nothing is converted. Item failures never
// abort their siblings; they are reported in BatchResult.Failures.
func (b *BatchConverter) Convert(ctx context.Context, items []models.UploadItem, quality int) (BatchResult, error) {
	logger := b.Logger.With("request_id", reqmeta.RequestID(ctx))

	if verdict := b.Validator.CheckBatch(items); !verdict.Accepted {
		b.Metrics.ObserveRejection(string(verdict.Reason))
		logger.Warn("batch rejected", "reason", verdict.Reason, "items", len(items))
		return BatchResult{}, &services.RejectError{Verdict: verdict}
	}

	var (
		result  BatchResult
		jobs    []*models.ConversionJob
		pending []<-chan error
		outputs []*jobResult
	)

	for i, item := range items {
		verdict := b.Validator.CheckItem(item)
		if !verdict.Accepted {
			logger.Warn("skipping file", "file", item.Filename, "reason", verdict.Reason)
			b.Metrics.ObserveRejection(string(verdict.Reason))
			rejectErr := &services.RejectError{Verdict: verdict}
			result.Failures = append(result.Failures, ItemFailure{
				Filename:    item.Filename,
				Reason:      string(verdict.Reason),
				ClientFault: true,
				Err:         rejectErr,
			})
			b.record(ctx, logger, models.ConversionRecord{
				Filename:   verdict.Filename,
				Status:     models.StatusRejected,
				Reason:     string(verdict.Reason),
				InputBytes: item.Size,
				RequestID:  reqmeta.RequestID(ctx),
				CreatedAt:  time.Now(),
			})
			continue
		}

		job := &models.ConversionJob{
			Index:        i,
			Filename:     verdict.Filename,
			Item:         item,
			Quality:      quality,
			MaxDimension: b.MaxDimension,
			CreatedAt:    time.Now(),
			Timeout:      b.Timeout,
		}
		out := &jobResult{}
		jobs = append(jobs, job)
		outputs = append(outputs, out)
		pending = append(pending, b.Pool.Submit(ctx, func(ctx context.Context) error {
			out.artifact, out.result, out.err = b.processJob(ctx, logger, job)
			return out.err
		}))
	}

	for i, ch := range pending {
		err := <-ch
		job, out := jobs[i], outputs[i]
		if err == nil {
			result.Converted = append(result.Converted, out.artifact)
			continue
		}
		result.Failures = append(result.Failures, failureFor(job.Filename, err))
	}

	logger.Info("batch finished",
		"items", len(items),
		"converted", len(result.Converted),
		"failed", len(result.Failures),
		"outcome", result.Outcome().String(),
	)
	return result, nil
}

func failureFor(filename string, err error) ItemFailure {
	f := ItemFailure{Filename: filename, Reason: "server-error", Err: err}
	var codecErr *services.CodecError
	if errors.As(err, &codecErr) {
		f.Reason = string(codecErr.Kind)
		f.ClientFault = codecErr.ClientAttributable()
	}
	return f
}

func (b *BatchConverter) processJob(ctx context.Context, logger *slog.Logger, job *models.ConversionJob) (models.Artifact, services.ConvertResult, error) {
	logger = logger.With("file", job.Filename)
	startTime := time.Now()

	artifact, res, err := b.convertJob(ctx, logger, job)

	rec := models.ConversionRecord{
		ArtifactID:  job.ArtifactID,
		Filename:    job.Filename,
		Status:      models.StatusCompleted,
		Width:       res.Width,
		Height:      res.Height,
		Quality:     res.Quality,
		Downsampled: res.Downsampled,
		InputBytes:  job.Item.Size,
		OutputBytes: artifact.Size,
		Duration:    time.Since(startTime),
		RequestID:   reqmeta.RequestID(ctx),
		CreatedAt:   job.CreatedAt,
	}
	if err != nil {
		rec.Status = models.StatusFailed
		rec.Reason = err.Error()
		b.Metrics.ObserveConversion("failure", rec.Duration, 0)
		logger.Warn("conversion skipped", "error", err, "duration", rec.Duration)
	} else {
		b.Metrics.ObserveConversion("success", res.Duration, artifact.Size)
		logger.Info("artifact stored", "artifact", artifact.ID, "bytes", artifact.Size, "duration", rec.Duration)
	}
	b.record(ctx, logger, rec)

	return artifact, res, err
}

func (b *BatchConverter) convertJob(ctx context.Context, logger *slog.Logger, job *models.ConversionJob) (models.Artifact, services.ConvertResult, error) {
	id, err := b.Store.Allocate(ctx, job.Filename)
	if err != nil {
		logger.Error("failed to allocate artifact id", "error", err)
		return models.Artifact{}, services.ConvertResult{}, fmt.Errorf("allocate: %w", err)
	}
	job.ArtifactID = id

	src, err := job.Item.Open()
	if err != nil {
		logger.Error("failed to open upload", "error", err)
		return models.Artifact{}, services.ConvertResult{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	var input io.Reader = src
	if b.Stager != nil {
		path, err := b.Stager.Stage(ctx, id, src)
		if err != nil {
			logger.Error("failed to stage upload", "error", err)
			return models.Artifact{}, services.ConvertResult{}, err
		}
		defer func() {
			if err := b.Stager.RemoveStaged(path); err != nil {
				logger.Error("failed to remove staged upload", "path", path, "error", err)
			}
		}()
		staged, err := os.Open(path)
		if err != nil {
			logger.Error("failed to reopen staged upload", "path", path, "error", err)
			return models.Artifact{}, services.ConvertResult{}, fmt.Errorf("open staged upload: %w", err)
		}
		defer staged.Close()
		input = staged
	}

	convCtx, cancel := ctx, context.CancelFunc(func() {})
	if job.Timeout > 0 {
		convCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	// buf belongs to the codec goroutine until Convert returns without a timeout.
	buf := &bytes.Buffer{}
	res, err := b.Codec.Convert(convCtx, input, buf, job.Quality)
	if err != nil {
		return models.Artifact{}, res, err
	}
	payload := buf.Bytes()

	var artifact models.Artifact
	err = Retry(ctx, b.MaxRetries, b.RetryBase, retryableCommit, func() error {
		var commitErr error
		artifact, commitErr = b.Store.Commit(ctx, id, bytes.NewReader(payload))
		if commitErr != nil {
			logger.Warn("commit attempt failed", "artifact", id, "error", commitErr)
		}
		return commitErr
	})
	if err != nil {
		logger.Error("failed to store artifact", "artifact", id, "error", err)
		return models.Artifact{}, res, fmt.Errorf("commit: %w", err)
	}
	return artifact, res, nil
}

func retryableCommit(err error) bool {
	return !errors.Is(err, services.ErrExists) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (b *BatchConverter) record(ctx context.Context, logger *slog.Logger, rec models.ConversionRecord) {
	if b.Recorder == nil {
		return
	}
	if err := b.Recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to record conversion", "error", err)
	}
}
