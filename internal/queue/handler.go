package queue

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/adverant/nexus/slipocr-worker/internal/errors"
	"github.com/adverant/nexus/slipocr-worker/internal/logging"
	"github.com/adverant/nexus/slipocr-worker/internal/processor"
)

// Notifier delivers job outcomes to the callback URL
type Notifier interface {
	NotifySuccess(ctx context.Context, callbackURL, slipID string, payload interface{}) error
	NotifyFailure(ctx context.Context, callbackURL, slipID string, cause error) error
}

// JobHandler runs one job message through the pipeline and reports the outcome
type JobHandler struct {
	processor processor.SlipProcessorInterface
	notifier  Notifier
	logger    *logging.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(p processor.SlipProcessorInterface, n Notifier) *JobHandler {
	return &JobHandler{
		processor: p,
		notifier:  n,
		logger:    logging.NewLogger("handler"),
	}
}

// HandleMessage never lets one job's failure escape as a panic.
// Cancelling ctx does not interrupt a job that has started.
func (h *JobHandler) HandleMessage(ctx context.Context, data []byte) (err error) {
	ctx = context.WithoutCancel(ctx)

	job, err := DecodeJob(data)
	if err != nil {
		h.logger.Error("Dropping malformed job",
			"error_code", errors.CodeOf(err),
			"job_id", errors.JobIDOf(err),
			"error", err,
		)
		return err
	}

	log := h.logger.With("job_id", job.JobID)

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = errors.NewJobPanicError(job.JobID, r, stack)
			log.Error("Job panicked", "error_code", errors.ErrorJobPanic, "error", err, "stack", stack)
			h.deliverFailure(ctx, log, job, err)
		}
	}()

	log.Info("Job received", "image_path", job.ImagePath)

	result, err := h.processor.Process(ctx, &processor.ProcessRequest{
		JobID:     job.JobID,
		ImagePath: job.ImagePath,
	})
	if err != nil {
		log.Error("Job failed",
			"error_code", errors.CodeOf(err),
			"error", err,
			"stack", errors.StackOf(err),
		)
		h.deliverFailure(ctx, log, job, err)
		return err
	}

	if err := h.notifier.NotifySuccess(ctx, job.CallbackURL, job.JobID, result.Payload); err != nil {
		log.Error("Success callback not delivered",
			"error_code", errors.CodeOf(err),
			"error", err,
		)
		h.deliverFailure(ctx, log, job, fmt.Errorf("result delivery failed: %w", err))
		return err
	}

	log.Info("Job completed",
		"transaction_type", result.Type,
		"processing_time_ms", result.ProcessingTimeMs,
	)
	return nil
}

// deliverFailure is best effort; its own failure is logged and swallowed
func (h *JobHandler) deliverFailure(ctx context.Context, log *logging.Logger, job *Job, cause error) {
	if err := h.notifier.NotifyFailure(ctx, job.CallbackURL, job.JobID, cause); err != nil {
		log.Error("Failure callback not delivered",
			"error_code", errors.CodeOf(err),
			"error", err,
		)
	}
}
