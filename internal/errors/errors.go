package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the slip OCR worker.
 *
 * Every failure that can end a job's success path carries a code so the
 * consumer can log it and put it in the failure callback without string matching.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Job intake
	ErrorMalformedJob ErrorCode = "MALFORMED_JOB"

	// Processing errors
	ErrorPreprocessingFailed    ErrorCode = "PREPROCESSING_FAILED"
	ErrorOCRFailed              ErrorCode = "OCR_FAILED"
	ErrorUnknownTransactionType ErrorCode = "UNKNOWN_TRANSACTION_TYPE"
	ErrorFieldNormalization     ErrorCode = "FIELD_NORMALIZATION_FAILED"
	ErrorJobPanic               ErrorCode = "JOB_PANIC"

	// Delivery errors
	ErrorDeliveryFailed ErrorCode = "DELIVERY_FAILED"

	// ErrorUnknown is returned by CodeOf for errors outside the taxonomy
	ErrorUnknown ErrorCode = "UNKNOWN"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewMalformedJobError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorMalformedJob,
		Message:   "job payload is missing job_id, image_path or callback_url",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewPreprocessingFailedError(jobID string, imagePath string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPreprocessingFailed,
		Message:   fmt.Sprintf("failed to preprocess image: %s", imagePath),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_path": imagePath,
		},
		Cause: cause,
	}
}

func NewOCRFailedError(jobID string, backend string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed on backend: %s", backend),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"ocr_backend": backend,
		},
		Cause: cause,
	}
}

func NewUnknownTransactionTypeError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnknownTransactionType,
		Message:   "no bill or transfer marker found in slip header",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewFieldNormalizationError(jobID string, field string, raw string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFieldNormalization,
		Message:   fmt.Sprintf("could not normalize field %q", field),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
			"raw":   raw,
		},
	}
}

func NewJobPanicError(jobID string, recovered interface{}, stack string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorJobPanic,
		Message:   fmt.Sprintf("panic while processing job: %v", recovered),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stack": stack,
		},
	}
}

func NewDeliveryFailedError(jobID string, attempts int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDeliveryFailed,
		Message:   fmt.Sprintf("callback for job %s failed after %d attempts", jobID, attempts),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		Cause: cause,
	}
}

// CodeOf returns the code of the first ProcessingError in err's chain
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ErrorUnknown
}

// JobIDOf returns the job ID recorded on the first ProcessingError in err's chain
func JobIDOf(err error) string {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.JobID
	}
	return ""
}

// StackOf returns the recovered stack of a JOB_PANIC error, or ""
func StackOf(err error) string {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		if stack, ok := pe.Details["stack"].(string); ok {
			return stack
		}
	}
	return ""
}

// ToMap converts error to map for audit storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
