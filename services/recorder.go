package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"webpconverter/config"
	"webpconverter/models"
)

// Recorder keeps a trail of finished conversions. Recording failures are
// logged by the caller and never fail a request.
type Recorder interface {
	Record(ctx context.Context, rec models.ConversionRecord) error
	Close() error
}

// MultiRecorder fans a record out to every configured recorder.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, rec models.ConversionRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisRecorder mirrors conversion status into a per-artifact hash.
type RedisRecorder struct {
	client *redis.Client
	cfg    *config.Config
	ttl    time.Duration
}

func NewRedisRecorder(ctx context.Context, cfg *config.Config) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisRecorder{
		client: client,
		cfg:    cfg,
		ttl:    time.Duration(cfg.StatusTTL) * time.Second,
	}, nil
}

func (r *RedisRecorder) Record(ctx context.Context, rec models.ConversionRecord) error {
	if rec.ArtifactID == "" {
		return nil
	}
	key := r.cfg.StatusKey(rec.ArtifactID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, statusFields(rec))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update Redis status: %w", err)
	}
	return nil
}

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

func statusFields(rec models.ConversionRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"status":      string(rec.Status),
		"filename":    rec.Filename,
		"duration_ms": strconv.FormatInt(rec.Duration.Milliseconds(), 10),
		"updated_at":  time.Now().Format(time.RFC3339),
	}
	if rec.Reason != "" {
		fields["error"] = rec.Reason
	}
	if rec.Status == models.StatusCompleted {
		fields["width"] = strconv.Itoa(rec.Width)
		fields["height"] = strconv.Itoa(rec.Height)
		fields["quality"] = strconv.Itoa(rec.Quality)
		fields["output_bytes"] = strconv.FormatInt(rec.OutputBytes, 10)
	}
	return fields
}
