package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"webpconverter/models"
)

const createConversionsTable = `CREATE TABLE IF NOT EXISTS image_conversions (
	id BIGSERIAL PRIMARY KEY,
	artifact_id TEXT,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	width INTEGER,
	height INTEGER,
	quality INTEGER,
	downsampled BOOLEAN NOT NULL DEFAULT FALSE,
	input_bytes BIGINT,
	output_bytes BIGINT,
	duration_ms BIGINT,
	request_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
)`

// DatabaseService keeps the conversion history in Postgres. Only metadata is
// stored; artifacts stay in the holding area.
type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(ctx context.Context, databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, createConversionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create conversions table: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

func (d *DatabaseService) Record(ctx context.Context, rec models.ConversionRecord) error {
	query := `INSERT INTO image_conversions
		(artifact_id, filename, status, error_message, width, height, quality, downsampled,
		 input_bytes, output_bytes, duration_ms, request_id, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := d.db.ExecContext(ctx, query,
		nullString(rec.ArtifactID),
		rec.Filename,
		string(rec.Status),
		nullString(rec.Reason),
		rec.Width,
		rec.Height,
		rec.Quality,
		rec.Downsampled,
		rec.InputBytes,
		rec.OutputBytes,
		rec.Duration.Milliseconds(),
		nullString(rec.RequestID),
		rec.CreatedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}
	return nil
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
