/**
 * Asynq job source for the slip OCR worker
 *
 * Alternative to pub/sub when jobs must survive a worker restart:
 * the producer enqueues a slip:ocr task and asynq hands it to the
 * same JobHandler. Concurrency is pinned to 1 because the OCR engine
 * is not reentrant. asynq does its own reconnecting.
 */

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/slipocr-worker/internal/errors"
	"github.com/adverant/nexus/slipocr-worker/internal/logging"
)

// TaskTypeSlipOCR is the asynq task type carrying a Job payload
const TaskTypeSlipOCR = "slip:ocr"

// In-flight jobs are allowed to finish on shutdown
const asynqShutdownTimeout = 10 * time.Minute

// AsynqConsumerConfig holds consumer configuration
type AsynqConsumerConfig struct {
	Redis     *RedisConfig
	QueueName string
	Handler   MessageHandler
}

// AsynqConsumer runs the handler behind an asynq server
type AsynqConsumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler MessageHandler
	logger  *logging.Logger
}

// NewAsynqConsumer creates a new asynq-backed consumer
func NewAsynqConsumer(cfg *AsynqConsumerConfig) (*AsynqConsumer, error) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}

	logger := logging.NewLogger("asynq")

	server := asynq.NewServer(
		redisClientOpt(cfg.Redis),
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				cfg.QueueName: 1,
			},
			ShutdownTimeout: asynqShutdownTimeout,
			Logger:          logging.Base(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Task ended with error",
					"task_type", task.Type(),
					"error_code", errors.CodeOf(err),
					"error", err,
				)
			}),
		},
	)

	c := &AsynqConsumer{
		server:  server,
		mux:     asynq.NewServeMux(),
		handler: cfg.Handler,
		logger:  logger,
	}
	c.mux.HandleFunc(TaskTypeSlipOCR, c.handleTask)

	return c, nil
}

// Run processes tasks until ctx is cancelled
func (c *AsynqConsumer) Run(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer")
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	<-ctx.Done()

	c.logger.Info("Stopping asynq consumer")
	c.server.Shutdown()
	return nil
}

// handleTask never asks asynq to retry; callbacks already reported the outcome
func (c *AsynqConsumer) handleTask(ctx context.Context, task *asynq.Task) error {
	if err := c.handler.HandleMessage(ctx, task.Payload()); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// NewSlipOCRTask wraps a job for asynq. Retries are disabled.
func NewSlipOCRTask(job *Job) (*asynq.Task, error) {
	data, err := job.Encode()
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSlipOCR, data, asynq.MaxRetry(0), asynq.TaskID(job.JobID)), nil
}

// AsynqPublisher enqueues slip tasks
type AsynqPublisher struct {
	client *asynq.Client
	queue  string
}

// NewAsynqPublisher creates a publisher for the given queue
func NewAsynqPublisher(cfg *RedisConfig, queue string) *AsynqPublisher {
	return &AsynqPublisher{client: asynq.NewClient(redisClientOpt(cfg)), queue: queue}
}

// Enqueue submits the job and returns the task ID
func (p *AsynqPublisher) Enqueue(ctx context.Context, job *Job) (string, error) {
	task, err := NewSlipOCRTask(job)
	if err != nil {
		return "", err
	}
	info, err := p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return info.ID, nil
}

// Close closes the underlying client
func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}

func redisClientOpt(cfg *RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}
