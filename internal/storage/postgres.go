/**
 * PostgreSQL audit sink for the slip OCR worker
 *
 * Appends one row per processed job to slipocr.audit_log. The full
 * record is kept as JSONB next to a few indexed columns.
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

	"github.com/adverant/nexus/slipocr-worker/internal/config"
)

const uniqueViolation = "23505"

const auditSchema = `
	CREATE SCHEMA IF NOT EXISTS slipocr;
	CREATE TABLE IF NOT EXISTS slipocr.audit_log (
		id                 UUID PRIMARY KEY,
		job_id             TEXT NOT NULL,
		status             TEXT NOT NULL,
		transaction_type   TEXT,
		error_code         TEXT,
		ocr_confidence     NUMERIC(5,2),
		processing_time_ms BIGINT,
		record             JSONB NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS audit_log_job_id_idx ON slipocr.audit_log (job_id);
`

// PostgresClient handles audit persistence in PostgreSQL
type PostgresClient struct {
	db *sql.DB
}

// sanitizeConfidence clamps to [0,100] and rounds to 2 decimals for NUMERIC(5,2)
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 100.0 {
		return 100.0
	}
	return float64(int(confidence*100+0.5)) / 100
}

// NewPostgresClient creates a new PostgreSQL client and ensures the audit table exists
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One job at a time; a small pool is plenty
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

func (p *PostgresClient) Name() string { return config.AuditSinkPostgres }

// RecordJob inserts the audit row. Replaying the same record ID is a no-op.
func (p *PostgresClient) RecordJob(ctx context.Context, record *AuditRecord) error {
	if record.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	recordJSON = sanitizeJSONForPostgres(recordJSON)

	var confidence sql.NullFloat64
	if record.OCR != nil {
		confidence = sql.NullFloat64{Float64: sanitizeConfidence(record.OCR.ConfidenceAvg), Valid: true}
	}

	query := `
		INSERT INTO slipocr.audit_log (
			id, job_id, status, transaction_type, error_code,
			ocr_confidence, processing_time_ms, record, created_at
		) VALUES (
			$1::uuid, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
			$6, $7, $8::jsonb, $9
		)
	`

	_, err = p.db.ExecContext(ctx, query,
		record.ID,
		record.JobID,
		record.Status,
		string(record.TransactionType),
		record.ErrorCode,
		confidence,
		record.ProcessingTimeMs,
		string(recordJSON),
		record.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil
		}
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	return p.db.Close()
}
