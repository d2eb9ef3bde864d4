package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"webpconverter/config"
	"webpconverter/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Store keeps artifacts as objects under a key prefix in one bucket.
type S3Store struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	bucket     string
	prefix     string
	nameSuffix bool
	teardown   bool
	logger     *slog.Logger
}

func NewS3Store(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*S3Store, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	if httpClient != nil {
		awsCfg.HTTPClient = httpClient
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &S3Store{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucket:     cfg.S3Bucket,
		prefix:     cfg.S3Prefix,
		nameSuffix: cfg.NameSuffix,
		teardown:   cfg.S3Teardown,
		logger:     logger,
	}, nil
}

func (s *S3Store) key(id string) string {
	return s.prefix + id
}

func (s *S3Store) exists(ctx context.Context, id string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check S3 object: %w", err)
}

func (s *S3Store) Allocate(ctx context.Context, originalName string) (string, error) {
	for attempt := 0; attempt < allocateAttempts; attempt++ {
		id := NewIdentifier(originalName, s.nameSuffix)
		found, err := s.exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !found {
			return id, nil
		}
		s.logger.Warn("identifier collision, retrying", "artifact", id)
	}
	return "", fmt.Errorf("failed to allocate identifier after %d attempts: %w", allocateAttempts, ErrExists)
}

// Commit uploads the artifact. An object only becomes readable once the
// upload has completed.
func (s *S3Store) Commit(ctx context.Context, id string, r io.Reader) (models.Artifact, error) {
	if !ValidIdentifier(id) {
		return models.Artifact{}, fmt.Errorf("invalid artifact id %q", id)
	}
	found, err := s.exists(ctx, id)
	if err != nil {
		return models.Artifact{}, err
	}
	if found {
		return models.Artifact{}, fmt.Errorf("commit %s: %w", id, ErrExists)
	}

	counter := &countingReader{r: r}
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        counter,
		ContentType: aws.String(models.WebPContentType),
	})
	if err != nil {
		return models.Artifact{}, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return models.Artifact{
		ID:          id,
		Size:        counter.n,
		ContentType: models.WebPContentType,
		ModTime:     time.Now(),
	}, nil
}

func (s *S3Store) Open(ctx context.Context, id string) (io.ReadCloser, models.Artifact, error) {
	if !ValidIdentifier(id) {
		return nil, models.Artifact{}, ErrNotFound
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, models.Artifact{}, ErrNotFound
		}
		return nil, models.Artifact{}, fmt.Errorf("failed to download from S3: %w", err)
	}

	artifact := models.Artifact{
		ID:          id,
		Size:        aws.Int64Value(out.ContentLength),
		ContentType: models.WebPContentType,
		ModTime:     aws.TimeValue(out.LastModified),
	}
	return out.Body, artifact, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	if !ValidIdentifier(id) {
		return ErrNotFound
	}
	found, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// Teardown deletes every object under the prefix when S3_TEARDOWN is set.
func (s *S3Store) Teardown(ctx context.Context) error {
	if !s.teardown {
		return nil
	}

	var deleteErr error
	removed := 0
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		if len(page.Contents) == 0 {
			return true
		}
		objects := make([]*s3.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
		}
		_, deleteErr = s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if deleteErr != nil {
			return false
		}
		removed += len(objects)
		return true
	})
	if err == nil {
		err = deleteErr
	}
	if err != nil {
		return fmt.Errorf("failed to clear S3 prefix %s: %w", s.prefix, err)
	}
	s.logger.Info("S3 holding area cleared", "bucket", s.bucket, "prefix", s.prefix, "objects", removed)
	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	var reqErr awserr.RequestFailure
	return errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound &&
		!strings.Contains(aerr.Code(), "Bucket")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
