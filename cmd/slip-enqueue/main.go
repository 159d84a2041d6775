/**
 * slip-enqueue - submit a slip OCR job
 *
 * Publishes one job on the worker's Redis channel (or enqueues it as an
 * asynq task) for manual testing. Every flag can also be set through the
 * environment with the SLIPOCR_ prefix, e.g. SLIPOCR_REDIS_ADDR.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/adverant/nexus/slipocr-worker/internal/config"
	"github.com/adverant/nexus/slipocr-worker/internal/logging"
	"github.com/adverant/nexus/slipocr-worker/internal/queue"
)

func main() {
	fs := ff.NewFlagSet("slip-enqueue")
	var (
		redisAddr     = fs.StringLong("redis-addr", "localhost:6379", "Redis address (host:port)")
		redisPassword = fs.StringLong("redis-password", "", "Redis password")
		redisDB       = fs.IntLong("redis-db", 0, "Redis database number")
		channel       = fs.StringLong("channel", "ocr:jobs", "Pub/sub channel the worker subscribes to")
		source        = fs.StringLong("source", config.JobSourcePubSub, "Job source: 'pubsub' or 'asynq'")
		asynqQueue    = fs.StringLong("queue", "slipocr", "Asynq queue name")
		imagePath     = fs.StringLong("image", "", "Path to the slip image (required)")
		callbackURL   = fs.StringLong("callback", "http://localhost:8080/webhook/echo", "Callback URL for the result")
		jobID         = fs.StringLong("job-id", "", "Job ID (default: random UUID)")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SLIPOCR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewLogger("slip-enqueue")

	if *imagePath == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: --image is required")
		os.Exit(1)
	}

	// the worker resolves paths on its own filesystem, so send an absolute one
	path, err := filepath.Abs(*imagePath)
	if err != nil {
		log.Error("Invalid image path", "path", *imagePath, "error", err)
		os.Exit(1)
	}

	job := &queue.Job{
		JobID:       *jobID,
		ImagePath:   path,
		CallbackURL: *callbackURL,
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	redisCfg := &queue.RedisConfig{
		Addr:     *redisAddr,
		Password: *redisPassword,
		DB:       *redisDB,
		Channel:  *channel,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch *source {
	case config.JobSourceAsynq:
		pub := queue.NewAsynqPublisher(redisCfg, *asynqQueue)
		defer pub.Close()

		taskID, err := pub.Enqueue(ctx, job)
		if err != nil {
			log.Error("Failed to enqueue job", "job_id", job.JobID, "error", err)
			os.Exit(1)
		}
		log.Info("Job enqueued", "job_id", job.JobID, "task_id", taskID, "queue", *asynqQueue)

	case config.JobSourcePubSub:
		pub := queue.NewRedisPublisher(redisCfg)
		defer pub.Close()

		receivers, err := pub.Publish(ctx, job)
		if err != nil {
			log.Error("Failed to publish job", "job_id", job.JobID, "error", err)
			os.Exit(1)
		}
		if receivers == 0 {
			log.Warn("No worker is subscribed; the job was dropped", "channel", *channel)
		}
		log.Info("Job published", "job_id", job.JobID, "channel", *channel, "receivers", receivers)

	default:
		log.Error("Invalid job source", "source", *source, "valid", "pubsub or asynq")
		os.Exit(1)
	}
}
