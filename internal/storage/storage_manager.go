/**
 * Audit storage for the slip OCR worker
 *
 * Every job that reaches the pipeline leaves one audit record: the OCR
 * result, parsed fields and payload on success, or the error code and
 * stack on failure. The sink is chosen once at startup.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/slipocr-worker/internal/config"
	"github.com/adverant/nexus/slipocr-worker/internal/ocr"
	"github.com/adverant/nexus/slipocr-worker/internal/slip"
)

// Audit record status values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// AuditRecord is what the worker keeps about one processed job
type AuditRecord struct {
	ID               string                   `json:"id"`
	JobID            string                   `json:"job_id"`
	Status           string                   `json:"status"`
	TransactionType  slip.TransactionType     `json:"transaction_type,omitempty"`
	OCR              *ocr.Result              `json:"ocr,omitempty"`
	Fields           slip.ParsedFields        `json:"parsed_fields,omitempty"`
	Payload          *slip.TransactionPayload `json:"payload,omitempty"`
	ErrorCode        string                   `json:"error_code,omitempty"`
	Error            string                   `json:"error,omitempty"`
	Stack            string                   `json:"stack,omitempty"`
	Details          map[string]interface{}   `json:"details,omitempty"`
	ProcessingTimeMs int64                    `json:"processing_time_ms"`
	CreatedAt        time.Time                `json:"created_at"`
}

// NewAuditRecord creates a record with a fresh ID
func NewAuditRecord(jobID, status string) *AuditRecord {
	return &AuditRecord{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

// AuditSink persists audit records
type AuditSink interface {
	RecordJob(ctx context.Context, record *AuditRecord) error
	Name() string
	Close() error
}

// SinkConfig selects and configures an audit sink
type SinkConfig struct {
	Kind        string
	Dir         string
	BoltPath    string
	DatabaseURL string
}

// NewAuditSink creates the sink named by cfg.Kind
func NewAuditSink(cfg *SinkConfig) (AuditSink, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sink config is required")
	}

	switch cfg.Kind {
	case config.AuditSinkFile:
		return NewFileSink(cfg.Dir)
	case config.AuditSinkBolt:
		return NewBoltSink(cfg.BoltPath)
	case config.AuditSinkPostgres:
		client, err := NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL audit sink: %w", err)
		}
		return client, nil
	case config.AuditSinkNone, "":
		return NopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown audit sink: %s", cfg.Kind)
	}
}

// NopSink discards every record
type NopSink struct{}

func (NopSink) RecordJob(context.Context, *AuditRecord) error { return nil }
func (NopSink) Name() string                                  { return config.AuditSinkNone }
func (NopSink) Close() error                                  { return nil }

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escapes that PostgreSQL JSONB rejects.
// OCR output of damaged images occasionally contains NUL and control characters.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
