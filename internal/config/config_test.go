package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"REDIS_HOST", "REDIS_PORT", "REDIS_CHANNEL", "JOB_SOURCE", "OCR_BACKEND",
		"OCR_LANGUAGES", "GEMINI_API_KEY", "CALLBACK_MAX_ATTEMPTS", "CALLBACK_TIMEOUT",
		"CALLBACK_INITIAL_BACKOFF", "RECONNECT_INITIAL_DELAY", "RECONNECT_MAX_DELAY",
		"AUDIT_SINK", "HEALTH_PORT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.RedisAddr() != "localhost:6379" {
		t.Errorf("RedisAddr() = %s", cfg.RedisAddr())
	}
	if cfg.RedisChannel != "ocr:jobs" {
		t.Errorf("RedisChannel = %s", cfg.RedisChannel)
	}
	if cfg.ReconnectInitialDelay != 2*time.Second || cfg.ReconnectMaxDelay != 30*time.Second {
		t.Errorf("reconnect delays = %s/%s", cfg.ReconnectInitialDelay, cfg.ReconnectMaxDelay)
	}
	if cfg.CallbackMaxAttempts != 5 || cfg.CallbackTimeout != 10*time.Second || cfg.CallbackInitialBackoff != 3*time.Second {
		t.Errorf("callback policy = %d/%s/%s", cfg.CallbackMaxAttempts, cfg.CallbackTimeout, cfg.CallbackInitialBackoff)
	}
	if !reflect.DeepEqual(cfg.OCRLanguages, []string{"tha", "eng"}) {
		t.Errorf("OCRLanguages = %v", cfg.OCRLanguages)
	}
	if cfg.LLMEnabled() {
		t.Error("LLM helper should be disabled without GEMINI_API_KEY")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("CALLBACK_TIMEOUT", "15")
	t.Setenv("RECONNECT_MAX_DELAY", "1m")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("JOB_SOURCE", "ASYNQ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.RedisPort != 6380 {
		t.Errorf("RedisPort = %d", cfg.RedisPort)
	}
	if cfg.CallbackTimeout != 15*time.Second {
		t.Errorf("CallbackTimeout = %s", cfg.CallbackTimeout)
	}
	if cfg.ReconnectMaxDelay != time.Minute {
		t.Errorf("ReconnectMaxDelay = %s", cfg.ReconnectMaxDelay)
	}
	if cfg.JobSource != JobSourceAsynq {
		t.Errorf("JobSource = %s", cfg.JobSource)
	}
	if !cfg.LLMEnabled() {
		t.Error("LLM helper should be enabled")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedisHost:              "localhost",
			RedisPort:              6379,
			RedisChannel:           "ocr:jobs",
			JobSource:              JobSourcePubSub,
			ReconnectInitialDelay:  2 * time.Second,
			ReconnectMaxDelay:      30 * time.Second,
			OCRBackend:             OCRBackendTesseract,
			OCRLanguages:           []string{"tha"},
			CallbackMaxAttempts:    5,
			CallbackTimeout:        10 * time.Second,
			CallbackInitialBackoff: 3 * time.Second,
			AuditSink:              AuditSinkFile,
			HealthPort:             8080,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.RedisPort = 0 }, "REDIS_PORT"},
		{"bad source", func(c *Config) { c.JobSource = "kafka" }, "JOB_SOURCE"},
		{"inverted delays", func(c *Config) { c.ReconnectMaxDelay = time.Second }, "reconnect"},
		{"bad backend", func(c *Config) { c.OCRBackend = "easyocr" }, "OCR_BACKEND"},
		{"remote without url", func(c *Config) { c.OCRBackend = OCRBackendRemote }, "OCR_SERVICE_URL"},
		{"zero attempts", func(c *Config) { c.CallbackMaxAttempts = 0 }, "CALLBACK_MAX_ATTEMPTS"},
		{"postgres without dsn", func(c *Config) { c.AuditSink = AuditSinkPostgres }, "DATABASE_URL"},
		{"unknown sink", func(c *Config) { c.AuditSink = "s3" }, "AUDIT_SINK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestSplitLanguages(t *testing.T) {
	got := splitLanguages("tha+eng, jpn")
	want := []string{"tha", "eng", "jpn"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitLanguages() = %v, want %v", got, want)
	}
}
