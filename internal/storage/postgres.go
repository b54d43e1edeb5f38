/**
 * PostgreSQL Client for the Vision Read worker
 *
 * Keeps an audit row per job: operation handle, status, counts and the last
 * error. Recognized text is never stored here.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID             string
	Status            string
	Mode              string
	Filename          string
	OperationLocation string
	PageCount         int
	WordCount         int
	MatchCount        int
	Patterns          []string
	Confidence        float64
	ProcessingTimeMs  int64
	ErrorCode         string
	ErrorMessage      string
	Metadata          map[string]interface{}
}

// JobRecord is a stored job row
type JobRecord struct {
	ID                string
	Status            string
	Mode              string
	Filename          string
	OperationLocation string
	PageCount         int
	WordCount         int
	MatchCount        int
	Patterns          []string
	Confidence        sql.NullFloat64
	ProcessingTimeMs  int64
	ErrorCode         string
	ErrorMessage      string
	Metadata          map[string]interface{}
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ErrJobNotFound is returned by GetJobByID for unknown ids.
var ErrJobNotFound = errors.New("job not found")

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS vision;
CREATE TABLE IF NOT EXISTS vision.read_jobs (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	mode               TEXT,
	filename           TEXT,
	operation_location TEXT,
	page_count         INTEGER NOT NULL DEFAULT 0,
	word_count         INTEGER NOT NULL DEFAULT 0,
	match_count        INTEGER NOT NULL DEFAULT 0,
	patterns           TEXT[],
	confidence         NUMERIC(5,4),
	processing_time_ms BIGINT,
	error_code         TEXT,
	error_message      TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS read_jobs_status_idx ON vision.read_jobs (status);
`

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to [0, 1]
// so it fits NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// NewPostgresClientFromDB wraps an existing connection pool.
func NewPostgresClientFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// EnsureSchema creates the job table if it does not exist
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus inserts or updates the job row. Zero counts and empty
// strings keep the previously stored value.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadata := update.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO vision.read_jobs (
			id, status, mode, filename, operation_location,
			page_count, word_count, match_count, patterns,
			confidence, processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''),
			$6, $7, $8, $9,
			NULLIF($10::NUMERIC(5,4), 0), NULLIF($11, 0), NULLIF($12, ''), NULLIF($13, ''), $14::jsonb,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			mode = COALESCE(EXCLUDED.mode, vision.read_jobs.mode),
			filename = COALESCE(EXCLUDED.filename, vision.read_jobs.filename),
			operation_location = COALESCE(EXCLUDED.operation_location, vision.read_jobs.operation_location),
			page_count = GREATEST(EXCLUDED.page_count, vision.read_jobs.page_count),
			word_count = GREATEST(EXCLUDED.word_count, vision.read_jobs.word_count),
			match_count = GREATEST(EXCLUDED.match_count, vision.read_jobs.match_count),
			patterns = COALESCE(EXCLUDED.patterns, vision.read_jobs.patterns),
			confidence = COALESCE(EXCLUDED.confidence, vision.read_jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, vision.read_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = vision.read_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var patterns interface{}
	if len(update.Patterns) > 0 {
		patterns = pq.Array(update.Patterns)
	}

	confidence := sanitizeConfidence(update.Confidence)

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,             // $1
		update.Status,            // $2
		update.Mode,              // $3
		update.Filename,          // $4
		update.OperationLocation, // $5
		update.PageCount,         // $6
		update.WordCount,         // $7
		update.MatchCount,        // $8
		patterns,                 // $9
		confidence,               // $10
		update.ProcessingTimeMs,  // $11
		update.ErrorCode,         // $12
		update.ErrorMessage,      // $13
		metadataJSON,             // $14
	).Scan(&returnedID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("failed to update job status (job=%s, status=%s, pg=%s): %w",
				update.JobID, update.Status, pqErr.Code.Name(), err)
		}
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, status, mode, filename, operation_location,
			page_count, word_count, match_count, patterns,
			confidence, processing_time_ms, error_code, error_message,
			metadata, created_at, updated_at
		FROM vision.read_jobs
		WHERE id = $1
	`

	var (
		rec                      JobRecord
		mode, filename, location sql.NullString
		errorCode, errorMessage  sql.NullString
		processingTimeMs         sql.NullInt64
		patterns                 pq.StringArray
		metadataJSON             []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&rec.ID, &rec.Status, &mode, &filename, &location,
		&rec.PageCount, &rec.WordCount, &rec.MatchCount, &patterns,
		&rec.Confidence, &processingTimeMs, &errorCode, &errorMessage,
		&metadataJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rec.Mode = mode.String
	rec.Filename = filename.String
	rec.OperationLocation = location.String
	rec.ErrorCode = errorCode.String
	rec.ErrorMessage = errorMessage.String
	rec.ProcessingTimeMs = processingTimeMs.Int64
	rec.Patterns = []string(patterns)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &rec, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
