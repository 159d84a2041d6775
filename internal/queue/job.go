package queue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/adverant/nexus/slipocr-worker/internal/errors"
)

// Job is one slip to process, as published by the producer
type Job struct {
	JobID       string `json:"job_id"`
	ImagePath   string `json:"image_path"`
	CallbackURL string `json:"callback_url"`
}

const jobSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["job_id", "image_path", "callback_url"],
	"properties": {
		"job_id":       {"type": "string", "minLength": 1, "pattern": "\\S"},
		"image_path":   {"type": "string", "minLength": 1, "pattern": "\\S"},
		"callback_url": {"type": "string", "minLength": 1, "pattern": "\\S"}
	}
}`

var jobSchema = jsonschema.MustCompileString("slipocr-job.json", jobSchemaJSON)

// DecodeJob parses and validates a job message.
// Any problem is reported as a MALFORMED_JOB ProcessingError carrying whatever job_id was readable.
func DecodeJob(data []byte) (*Job, error) {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.NewMalformedJobError("", fmt.Errorf("invalid JSON: %w", err))
	}

	if err := jobSchema.Validate(raw); err != nil {
		return nil, errors.NewMalformedJobError(peekJobID(raw), err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.NewMalformedJobError(peekJobID(raw), err)
	}
	return &job, nil
}

// Encode serializes the job for publishing. Jobs the worker would drop are rejected.
func (j *Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	if _, err := DecodeJob(data); err != nil {
		return nil, err
	}
	return data, nil
}

func peekJobID(raw interface{}) string {
	if m, ok := raw.(map[string]interface{}); ok {
		if id, ok := m["job_id"].(string); ok {
			return id
		}
	}
	return ""
}
