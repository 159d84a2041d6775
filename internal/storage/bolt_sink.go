package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/adverant/nexus/slipocr-worker/internal/config"
)

const auditBucket = "audit"

// BoltSink keeps audit records in a local bbolt file keyed by job ID
type BoltSink struct {
	db *bbolt.DB
}

// NewBoltSink opens (or creates) the database at path
func NewBoltSink(path string) (*BoltSink, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bolt directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(auditBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltSink{db: db}, nil
}

func (b *BoltSink) Name() string { return config.AuditSinkBolt }

// RecordJob stores the record under its job ID, replacing any earlier one
func (b *BoltSink) RecordJob(_ context.Context, record *AuditRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucket))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling audit record: %w", err)
		}
		return bucket.Put([]byte(record.JobID), data)
	})
}

// GetRecord retrieves the audit record of a job
func (b *BoltSink) GetRecord(jobID string) (*AuditRecord, error) {
	var record *AuditRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(auditBucket)).Get([]byte(jobID))
		if data == nil {
			return fmt.Errorf("audit record not found: %s", jobID)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Count returns the number of stored records
func (b *BoltSink) Count() (int, error) {
	n := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(auditBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

func (b *BoltSink) Close() error {
	return b.db.Close()
}
