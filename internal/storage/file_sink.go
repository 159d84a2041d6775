package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adverant/nexus/slipocr-worker/internal/config"
)

// FileSink writes audit records as JSON files and keeps debug images
//
//	{dir}/ocr/{job_id}_ocr.json
//	{dir}/images/{job_id}/{stage}.png
type FileSink struct {
	dir string
}

// NewFileSink creates the directory layout under dir
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	for _, sub := range []string{"ocr", "images"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Name() string { return config.AuditSinkFile }

// RecordJob overwrites any earlier record for the same job
func (s *FileSink) RecordJob(_ context.Context, record *AuditRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	path := filepath.Join(s.dir, "ocr", safeName(record.JobID)+"_ocr.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// SaveDebugImage stores one PNG stage of a job's preprocessing
func (s *FileSink) SaveDebugImage(_ context.Context, jobID, stage string, data []byte) error {
	dir := filepath.Join(s.dir, "images", safeName(jobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, safeName(stage)+".png"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write debug image: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error { return nil }

// safeName keeps job-supplied identifiers inside the audit directory
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "_"
	}
	return s
}
