/**
 * Configuration for the slip OCR worker
 *
 * Loaded once at startup from environment variables (a .env file is read
 * first by cmd/worker). Nothing in here is mutated after LoadConfig returns.
 */

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	JobSourcePubSub = "pubsub"
	JobSourceAsynq  = "asynq"

	OCRBackendTesseract = "tesseract"
	OCRBackendRemote    = "remote"

	AuditSinkFile     = "file"
	AuditSinkBolt     = "bolt"
	AuditSinkPostgres = "postgres"
	AuditSinkNone     = "none"
)

// Config holds worker configuration
type Config struct {
	// Redis job source
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisChannel  string
	JobSource     string
	AsynqQueue    string

	// Reconnect policy for the job source
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	// OCR backend
	OCRBackend     string
	TessdataPrefix string
	OCRLanguages   []string
	OCRServiceURL  string

	// Optional Gemini disambiguation helper
	GeminiAPIKey string
	GeminiModel  string

	// Callback delivery
	CallbackMaxAttempts    int
	CallbackTimeout        time.Duration
	CallbackInitialBackoff time.Duration

	// Audit logging and debug artifacts
	AuditSink       string
	AuditDir        string
	AuditBoltPath   string
	DatabaseURL     string
	SaveDebugImages bool

	// Health server
	HealthPort int

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisHost:              getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:              getEnvAsIntOrDefault("REDIS_PORT", 6379),
		RedisPassword:          getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:                getEnvAsIntOrDefault("REDIS_DB", 0),
		RedisChannel:           getEnvOrDefault("REDIS_CHANNEL", "ocr:jobs"),
		JobSource:              strings.ToLower(getEnvOrDefault("JOB_SOURCE", JobSourcePubSub)),
		AsynqQueue:             getEnvOrDefault("ASYNQ_QUEUE", "slipocr"),
		ReconnectInitialDelay:  getEnvAsDurationOrDefault("RECONNECT_INITIAL_DELAY", 2*time.Second),
		ReconnectMaxDelay:      getEnvAsDurationOrDefault("RECONNECT_MAX_DELAY", 30*time.Second),
		OCRBackend:             strings.ToLower(getEnvOrDefault("OCR_BACKEND", OCRBackendTesseract)),
		TessdataPrefix:         getEnvOrDefault("TESSDATA_PREFIX", ""),
		OCRLanguages:           splitLanguages(getEnvOrDefault("OCR_LANGUAGES", "tha+eng")),
		OCRServiceURL:          getEnvOrDefault("OCR_SERVICE_URL", "http://localhost:8000/ocr"),
		GeminiAPIKey:           getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:            getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		CallbackMaxAttempts:    getEnvAsIntOrDefault("CALLBACK_MAX_ATTEMPTS", 5),
		CallbackTimeout:        getEnvAsDurationOrDefault("CALLBACK_TIMEOUT", 10*time.Second),
		CallbackInitialBackoff: getEnvAsDurationOrDefault("CALLBACK_INITIAL_BACKOFF", 3*time.Second),
		AuditSink:              strings.ToLower(getEnvOrDefault("AUDIT_SINK", AuditSinkFile)),
		AuditDir:               getEnvOrDefault("AUDIT_DIR", "logs"),
		AuditBoltPath:          getEnvOrDefault("AUDIT_BOLT_PATH", "logs/audit.db"),
		DatabaseURL:            getEnvOrDefault("DATABASE_URL", ""),
		SaveDebugImages:        getEnvAsBoolOrDefault("SAVE_DEBUG_IMAGES", true),
		HealthPort:             getEnvAsIntOrDefault("HEALTH_PORT", 8080),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}

	if c.RedisPort < 1 || c.RedisPort > 65535 {
		return fmt.Errorf("REDIS_PORT must be between 1 and 65535, got %d", c.RedisPort)
	}

	if c.RedisChannel == "" {
		return fmt.Errorf("REDIS_CHANNEL is required")
	}

	switch c.JobSource {
	case JobSourcePubSub, JobSourceAsynq:
	default:
		return fmt.Errorf("JOB_SOURCE must be %q or %q, got %q", JobSourcePubSub, JobSourceAsynq, c.JobSource)
	}

	if c.ReconnectInitialDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectInitialDelay {
		return fmt.Errorf("reconnect delays must satisfy 0 < initial <= max, got initial=%s max=%s",
			c.ReconnectInitialDelay, c.ReconnectMaxDelay)
	}

	switch c.OCRBackend {
	case OCRBackendTesseract:
		if len(c.OCRLanguages) == 0 {
			return fmt.Errorf("OCR_LANGUAGES is required for the tesseract backend")
		}
	case OCRBackendRemote:
		if c.OCRServiceURL == "" {
			return fmt.Errorf("OCR_SERVICE_URL is required for the remote backend")
		}
	default:
		return fmt.Errorf("OCR_BACKEND must be %q or %q, got %q", OCRBackendTesseract, OCRBackendRemote, c.OCRBackend)
	}

	if c.CallbackMaxAttempts < 1 || c.CallbackMaxAttempts > 20 {
		return fmt.Errorf("CALLBACK_MAX_ATTEMPTS must be between 1 and 20, got %d", c.CallbackMaxAttempts)
	}

	if c.CallbackTimeout <= 0 || c.CallbackInitialBackoff <= 0 {
		return fmt.Errorf("callback timeout and backoff must be > 0 (got timeout=%s, backoff=%s)",
			c.CallbackTimeout, c.CallbackInitialBackoff)
	}

	switch c.AuditSink {
	case AuditSinkFile, AuditSinkNone:
	case AuditSinkBolt:
		if c.AuditBoltPath == "" {
			return fmt.Errorf("AUDIT_BOLT_PATH is required for the bolt audit sink")
		}
	case AuditSinkPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres audit sink")
		}
	default:
		return fmt.Errorf("unknown AUDIT_SINK %q", c.AuditSink)
	}

	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT must be between 1 and 65535, got %d", c.HealthPort)
	}

	return nil
}

// RedisAddr returns host:port for the job source
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// HealthAddr returns the listen address of the health server
func (c *Config) HealthAddr() string {
	return fmt.Sprintf(":%d", c.HealthPort)
}

// LLMEnabled reports whether the disambiguation helper should be constructed
func (c *Config) LLMEnabled() bool {
	return c.GeminiAPIKey != ""
}

// splitLanguages accepts tesseract's "tha+eng" form as well as commas
func splitLanguages(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	langs := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			langs = append(langs, f)
		}
	}
	return langs
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDurationOrDefault accepts Go durations ("10s") or plain seconds ("10")
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
