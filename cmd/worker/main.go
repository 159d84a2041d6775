/**
 * Slip OCR Worker - Main Entry Point
 *
 * Consumes bank-slip OCR jobs from Redis, recognizes the slip, extracts
 * payer/payee/amount/date by template zone and posts the result to the
 * job's callback URL.
 *
 * Architecture:
 * - Redis pub/sub consumer with reconnect backoff (or asynq queue)
 * - One warm OCR engine (Tesseract via gosseract, or a remote OCR service)
 * - Template classifier + spatial zone extractor + normalizers
 * - Callback delivery with bounded retries
 * - Audit log (JSON files, bbolt or PostgreSQL)
 * - Health / webhook-echo HTTP server
 *
 * Jobs are processed strictly one at a time.
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/slipocr-worker/internal/clients"
	"github.com/adverant/nexus/slipocr-worker/internal/config"
	"github.com/adverant/nexus/slipocr-worker/internal/health"
	"github.com/adverant/nexus/slipocr-worker/internal/logging"
	"github.com/adverant/nexus/slipocr-worker/internal/ocr"
	"github.com/adverant/nexus/slipocr-worker/internal/processor"
	"github.com/adverant/nexus/slipocr-worker/internal/queue"
	"github.com/adverant/nexus/slipocr-worker/internal/slip"
	"github.com/adverant/nexus/slipocr-worker/internal/storage"
)

// runner is satisfied by both job sources
type runner interface {
	Run(ctx context.Context) error
}

// pinger is implemented by audit sinks backed by a remote database
type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	log := logging.NewLogger("main")

	if err := godotenv.Load(); err != nil {
		log.Warn(".env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)

	log.Info("Slip OCR worker starting",
		"redis", cfg.RedisAddr(),
		"job_source", cfg.JobSource,
		"ocr_backend", cfg.OCRBackend,
		"audit_sink", cfg.AuditSink,
		"llm_helper", cfg.LLMEnabled(),
	)

	// OCR engine is loaded once and reused for every job
	engine, ocrCheck, err := newEngine(cfg)
	if err != nil {
		log.Error("Failed to initialize OCR engine", "backend", cfg.OCRBackend, "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	log.Info("OCR engine ready", "backend", engine.Name())

	audit, err := storage.NewAuditSink(&storage.SinkConfig{
		Kind:        cfg.AuditSink,
		Dir:         cfg.AuditDir,
		BoltPath:    cfg.AuditBoltPath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		log.Error("Failed to initialize audit sink", "sink", cfg.AuditSink, "error", err)
		os.Exit(1)
	}
	defer audit.Close()

	var debugWriter processor.DebugImageWriter
	if cfg.SaveDebugImages {
		files, err := storage.NewFileSink(cfg.AuditDir)
		if err != nil {
			log.Error("Failed to initialize debug image directory", "dir", cfg.AuditDir, "error", err)
			os.Exit(1)
		}
		debugWriter = files
	}

	var disambiguator processor.Disambiguator
	if cfg.LLMEnabled() {
		gemini, err := clients.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Warn("Gemini helper disabled", "error", err)
		} else {
			defer gemini.Close()
			disambiguator = gemini
		}
	}

	proc, err := processor.NewSlipProcessor(&processor.ProcessorConfig{
		Engine:        engine,
		Preprocessor:  processor.NewFilterChain(debugWriter),
		Parser:        slip.NewParser(),
		Disambiguator: disambiguator,
		Audit:         audit,
	})
	if err != nil {
		log.Error("Failed to initialize slip processor", "error", err)
		os.Exit(1)
	}

	notifier := clients.NewCallbackClient(&clients.CallbackConfig{
		MaxAttempts:    cfg.CallbackMaxAttempts,
		Timeout:        cfg.CallbackTimeout,
		InitialBackoff: cfg.CallbackInitialBackoff,
	})
	handler := queue.NewJobHandler(proc, notifier)

	redisCfg := &queue.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.RedisChannel,
	}

	// The subscriber doubles as the Redis health probe for both sources
	subscriber, err := queue.NewRedisSubscriber(redisCfg)
	if err != nil {
		log.Error("Failed to initialize Redis client", "error", err)
		os.Exit(1)
	}
	defer subscriber.Close()

	var source runner
	switch cfg.JobSource {
	case config.JobSourceAsynq:
		source, err = queue.NewAsynqConsumer(&queue.AsynqConsumerConfig{
			Redis:     redisCfg,
			QueueName: cfg.AsynqQueue,
			Handler:   handler,
		})
		if err != nil {
			log.Error("Failed to initialize asynq consumer", "error", err)
			os.Exit(1)
		}
	default:
		source = queue.NewConsumer(&queue.ConsumerConfig{
			Subscriber:   subscriber,
			Handler:      handler,
			InitialDelay: cfg.ReconnectInitialDelay,
			MaxDelay:     cfg.ReconnectMaxDelay,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var auditCheck health.CheckFunc
	if p, ok := audit.(pinger); ok {
		auditCheck = p.Ping
	}

	srv := health.NewServer(cfg.HealthAddr(), &health.Config{
		RedisCheck: subscriber.Ping,
		OCRBackend: engine.Name(),
		OCRCheck:   ocrCheck,
		AuditSink:  audit.Name(),
		AuditCheck: auditCheck,
	})
	go func() {
		log.Info("Health server listening", "addr", cfg.HealthAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health server stopped", "error", err)
		}
	}()

	log.Info("Waiting for jobs...", "channel", cfg.RedisChannel, "queue", cfg.AsynqQueue)

	if err := source.Run(ctx); err != nil {
		log.Error("Job source stopped with error", "error", err)
	}

	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Health server shutdown error", "error", err)
	}

	log.Info("Shutdown complete")
}

// newEngine builds the configured OCR backend and its health probe
func newEngine(cfg *config.Config) (ocr.Engine, health.CheckFunc, error) {
	switch cfg.OCRBackend {
	case config.OCRBackendRemote:
		remote := ocr.NewRemoteOCR(cfg.OCRServiceURL, cfg.OCRLanguages)
		return remote, remote.HealthCheck, nil
	default:
		tess, err := ocr.NewTesseractOCR(&ocr.TesseractConfig{
			TessdataPrefix: cfg.TessdataPrefix,
			Languages:      cfg.OCRLanguages,
		})
		if err != nil {
			return nil, nil, err
		}
		log := logging.NewLogger("ocr")
		log.Info("Tesseract loaded", "version", tess.Version(), "languages", cfg.OCRLanguages)
		return tess, tess.HealthCheck, nil
	}
}
