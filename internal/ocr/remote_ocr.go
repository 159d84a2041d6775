/**
 * Remote OCR - HTTP recognition sidecar
 *
 * Delegates recognition to an OCR service (EasyOCR or similar) that answers
 * with the {raw_text, confidence_avg, words[{text, confidence, bbox}]} document.
 * Useful where the tesseract Thai model is not good enough or not installed.
 */

package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adverant/nexus/slipocr-worker/internal/logging"
)

const BackendRemote = "remote"

// RemoteOCR handles communication with the OCR sidecar
type RemoteOCR struct {
	endpoint   string
	languages  []string
	httpClient *http.Client
	logger     *logging.Logger
}

// RemoteOCRRequest is the body posted to the sidecar
type RemoteOCRRequest struct {
	Image     string   `json:"image"`  // Base64 encoded PNG
	Format    string   `json:"format"` // always "base64"
	Languages []string `json:"languages,omitempty"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
}

// RemoteOCRResponse is the sidecar's answer
type RemoteOCRResponse struct {
	RawText       string  `json:"raw_text"`
	ConfidenceAvg float64 `json:"confidence_avg"`
	Words         []Word  `json:"words"`
	Error         string  `json:"error,omitempty"`
}

// NewRemoteOCR creates a new sidecar client
func NewRemoteOCR(endpoint string, languages []string) *RemoteOCR {
	return &RemoteOCR{
		endpoint:  endpoint,
		languages: languages,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // first call on a cold sidecar loads the model
		},
		logger: logging.NewLogger("RemoteOCR"),
	}
}

// Name identifies the backend in logs and health output
func (c *RemoteOCR) Name() string {
	return BackendRemote
}

// Recognize posts the image and converts the sidecar's words
func (c *RemoteOCR) Recognize(ctx context.Context, img *Image) (*Result, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	reqBody, err := json.Marshal(&RemoteOCRRequest{
		Image:     base64.StdEncoding.EncodeToString(img.Data),
		Format:    "base64",
		Languages: c.languages,
		Width:     img.Width,
		Height:    img.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "slipocr-worker")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to OCR service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var ocrResp RemoteOCRResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if ocrResp.Error != "" {
		return nil, fmt.Errorf("OCR service error: %s", ocrResp.Error)
	}

	words := make([]Word, 0, len(ocrResp.Words))
	for _, w := range ocrResp.Words {
		w.Text = strings.TrimSpace(w.Text)
		if w.Text == "" {
			continue
		}
		words = append(words, w)
	}

	result := NewResult(BackendRemote, words, img.Width, img.Height)
	if ocrResp.RawText != "" {
		result.RawText = ocrResp.RawText
	}

	c.logger.Debug("Text extraction complete",
		"words", len(result.Words),
		"confidence", result.ConfidenceAvg)

	return result, nil
}

// HealthCheck verifies the OCR service is reachable
func (c *RemoteOCR) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(c.endpoint), nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("OCR service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OCR service health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the HTTP client has nothing to release
func (c *RemoteOCR) Close() error {
	return nil
}

// healthURL swaps the last path segment of the recognition endpoint for /health
func healthURL(endpoint string) string {
	if i := strings.LastIndex(endpoint, "/"); i > len("https://") {
		return endpoint[:i] + "/health"
	}
	return strings.TrimRight(endpoint, "/") + "/health"
}
