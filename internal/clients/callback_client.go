/**
 * Callback Client for the slip OCR worker
 *
 * Delivers {slipId, status, data} to the job's callback URL.
 * Each attempt has its own timeout; transport errors and non-2xx
 * responses are retried alike with exponential backoff (3s, 6s, 12s, ...).
 * Exhausting the budget returns a DELIVERY_FAILED error.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/slipocr-worker/internal/errors"
	"github.com/adverant/nexus/slipocr-worker/internal/logging"
)

// Callback status values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// CallbackRequest is the body posted to the callback URL
type CallbackRequest struct {
	SlipID string      `json:"slipId"`
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

// FailureData is the data object of a failed callback
type FailureData struct {
	Error string `json:"error"`
}

// CallbackConfig holds retry policy
type CallbackConfig struct {
	MaxAttempts    int
	Timeout        time.Duration
	InitialBackoff time.Duration
	// HTTPClient is optional; its Timeout is ignored in favour of Timeout above
	HTTPClient *http.Client
}

// CallbackClient handles result delivery
type CallbackClient struct {
	maxAttempts    int
	timeout        time.Duration
	initialBackoff time.Duration
	httpClient     *http.Client
	sleep          func(ctx context.Context, d time.Duration) error
	logger         *logging.Logger
}

// NewCallbackClient creates a new callback client
func NewCallbackClient(cfg *CallbackConfig) *CallbackClient {
	c := &CallbackClient{
		maxAttempts:    5,
		timeout:        10 * time.Second,
		initialBackoff: 3 * time.Second,
		httpClient:     &http.Client{},
		sleep:          sleepContext,
		logger:         logging.NewLogger("CallbackClient"),
	}
	if cfg == nil {
		return c
	}
	if cfg.MaxAttempts > 0 {
		c.maxAttempts = cfg.MaxAttempts
	}
	if cfg.Timeout > 0 {
		c.timeout = cfg.Timeout
	}
	if cfg.InitialBackoff > 0 {
		c.initialBackoff = cfg.InitialBackoff
	}
	if cfg.HTTPClient != nil {
		c.httpClient = cfg.HTTPClient
	}
	return c
}

// NotifySuccess delivers the transaction payload
func (c *CallbackClient) NotifySuccess(ctx context.Context, callbackURL, slipID string, payload interface{}) error {
	return c.Notify(ctx, callbackURL, slipID, StatusSuccess, payload)
}

// NotifyFailure delivers {error: message}
func (c *CallbackClient) NotifyFailure(ctx context.Context, callbackURL, slipID string, cause error) error {
	return c.Notify(ctx, callbackURL, slipID, StatusFailed, FailureData{Error: cause.Error()})
}

// Notify posts the callback body, retrying until it is accepted or the attempts run out
func (c *CallbackClient) Notify(ctx context.Context, callbackURL, slipID, status string, data interface{}) error {
	body, err := json.Marshal(CallbackRequest{SlipID: slipID, Status: status, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal callback body: %w", err)
	}

	backoff := c.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.post(ctx, callbackURL, body)
		if lastErr == nil {
			c.logger.Info("Callback delivered",
				"job_id", slipID,
				"status", status,
				"attempt", attempt,
			)
			return nil
		}

		c.logger.Warn("Callback attempt failed",
			"job_id", slipID,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", lastErr,
		)

		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, backoff); err != nil {
			lastErr = fmt.Errorf("context cancelled during retry backoff: %w", err)
			return errors.NewDeliveryFailedError(slipID, attempt, lastErr)
		}
		backoff *= 2
	}

	return errors.NewDeliveryFailedError(slipID, c.maxAttempts, lastErr)
}

func (c *CallbackClient) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, string(respBody))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
