/**
 * Health and webhook-echo HTTP surface for the slip OCR worker
 *
 * GET  /health        reports Redis, OCR backend and audit sink status.
 *                     Always 200; "status" carries ok or degraded.
 * POST /webhook/echo  echoes the posted JSON (manual callback target)
 *
 * Runs beside the consumer and shares nothing mutable with it.
 */

package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/adverant/nexus/slipocr-worker/internal/logging"
)

const checkTimeout = 2 * time.Second

// Overall status values
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// Config wires the probes. A nil check counts as healthy.
type Config struct {
	RedisCheck CheckFunc
	OCRBackend string
	OCRCheck   CheckFunc
	AuditSink  string
	AuditCheck CheckFunc
}

// ComponentStatus is one dependency in the health response
type ComponentStatus struct {
	OK      bool    `json:"ok"`
	Backend string  `json:"backend,omitempty"`
	Error   *string `json:"error"`
}

// Response is the /health body
type Response struct {
	Status string          `json:"status"`
	Redis  ComponentStatus `json:"redis"`
	OCR    ComponentStatus `json:"ocr"`
	Audit  ComponentStatus `json:"audit"`
}

// NewHandler builds the gin engine
func NewHandler(cfg *Config) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", healthCheck(cfg))
	r.POST("/webhook/echo", webhookEcho)

	return r
}

// NewServer wraps the handler in an http.Server listening on addr
func NewServer(addr string, cfg *Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthCheck(cfg *Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()

		resp := Response{
			Status: StatusOK,
			Redis:  probe(ctx, cfg.RedisCheck),
			OCR:    probe(ctx, cfg.OCRCheck),
			Audit:  probe(ctx, cfg.AuditCheck),
		}
		resp.OCR.Backend = cfg.OCRBackend
		resp.Audit.Backend = cfg.AuditSink

		if !resp.Redis.OK || !resp.OCR.OK || !resp.Audit.OK {
			resp.Status = StatusDegraded
		}
		c.JSON(http.StatusOK, resp)
	}
}

func probe(ctx context.Context, check CheckFunc) ComponentStatus {
	if check == nil {
		return ComponentStatus{OK: true}
	}
	if err := check(ctx); err != nil {
		msg := err.Error()
		return ComponentStatus{OK: false, Error: &msg}
	}
	return ComponentStatus{OK: true}
}

func webhookEcho(c *gin.Context) {
	var body interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	logging.Base().WithFields(logrus.Fields{
		"component": "webhook",
		"body":      body,
	}).Info("Webhook received")

	c.JSON(http.StatusOK, body)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Base().WithFields(logrus.Fields{
			"component":   "http",
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request served")
	}
}
