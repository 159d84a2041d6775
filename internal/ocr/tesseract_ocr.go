/**
 * Tesseract OCR - local word-level recognition
 *
 * Keeps one gosseract client for the lifetime of the worker. Creating the
 * client and loading the Thai+English traineddata is the expensive part,
 * so it happens once in NewTesseractOCR and is verified with a warm-up pass.
 */

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync/atomic"

	"github.com/otiai10/gosseract/v2"
)

const BackendTesseract = "tesseract"

// TesseractOCR handles word-level OCR using Tesseract
type TesseractOCR struct {
	client    *gosseract.Client
	languages []string
	closed    atomic.Bool
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	TessdataPrefix string
	Languages      []string
}

// NewTesseractOCR creates the client and runs a warm-up recognition.
// An error here means the engine cannot be allocated and the worker must not start.
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"tha", "eng"}
	}

	client := gosseract.NewClient()

	if cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(cfg.TessdataPrefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}

	if err := client.SetLanguage(cfg.Languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set languages %v: %w", cfg.Languages, err)
	}

	t := &TesseractOCR{
		client:    client,
		languages: cfg.Languages,
	}

	if err := t.warmUp(); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract warm-up failed: %w", err)
	}

	return t, nil
}

// warmUp forces tesseract to load its models on a blank page
func (t *TesseractOCR) warmUp() error {
	blank := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range blank.Pix {
		blank.Pix[i] = uint8(color.White.Y >> 8)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, blank); err != nil {
		return err
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return err
	}
	_, err := t.client.Text()
	return err
}

// Name identifies the backend in logs and health output
func (t *TesseractOCR) Name() string {
	return BackendTesseract
}

// Version reports the linked tesseract library version
func (t *TesseractOCR) Version() string {
	return gosseract.Version()
}

// HealthCheck reports whether the engine is still usable. It never touches
// the client, which belongs to the consumer loop.
func (t *TesseractOCR) HealthCheck(_ context.Context) error {
	if t.closed.Load() {
		return fmt.Errorf("tesseract client is closed")
	}
	if t.Version() == "" {
		return fmt.Errorf("tesseract library not available")
	}
	return nil
}

// Recognize performs word-level OCR using Tesseract
func (t *TesseractOCR) Recognize(ctx context.Context, img *Image) (*Result, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	if err := t.client.SetImageFromBytes(img.Data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		words = append(words, Word{
			Text:       text,
			Confidence: b.Confidence,
			BBox: RectBBox(
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y),
			),
		})
	}

	return NewResult(BackendTesseract, words, img.Width, img.Height), nil
}

// Close releases the tesseract client
func (t *TesseractOCR) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.client.Close()
}
