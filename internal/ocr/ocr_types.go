/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Common types produced by every recognition backend and consumed by the
 * slip parser. Word geometry lives here because both sides need it.
 */

package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Engine turns a preprocessed image into recognized words.
//
// Implementations hold warm, expensive state and are not safe for concurrent
// use. The worker owns exactly one Engine and calls it from the consumer loop only.
type Engine interface {
	Recognize(ctx context.Context, img *Image) (*Result, error)
	Name() string
	Close() error
}

// Image is a preprocessed slip ready for recognition
type Image struct {
	Data   []byte // PNG encoded
	Width  int
	Height int
}

// Result represents the result of OCR processing
type Result struct {
	RawText       string  `json:"raw_text"`
	ConfidenceAvg float64 `json:"confidence_avg"`
	Words         []Word  `json:"words"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Backend       string  `json:"backend"`
}

// Point is an image coordinate in pixels
type Point struct {
	X float64
	Y float64
}

// MarshalJSON writes a point as [x, y] to match the OCR sidecar format
func (p Point) MarshalJSON() ([]byte, error) {
	return marshalPair(p.X, p.Y)
}

// UnmarshalJSON reads a point written as [x, y]
func (p *Point) UnmarshalJSON(data []byte) error {
	x, y, err := unmarshalPair(data)
	if err != nil {
		return err
	}
	p.X, p.Y = x, y
	return nil
}

// Word is a single recognized word. BBox corners are not necessarily
// axis-aligned, so containment tests use Centroid.
type Word struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"` // 0-100
	BBox       [4]Point `json:"bbox"`
}

// Centroid is the mean of the four corners
func (w Word) Centroid() Point {
	var sx, sy float64
	for _, p := range w.BBox {
		sx += p.X
		sy += p.Y
	}
	return Point{X: sx / 4, Y: sy / 4}
}

// MinX is the left-most x of the bounding box
func (w Word) MinX() float64 {
	m := math.Inf(1)
	for _, p := range w.BBox {
		m = math.Min(m, p.X)
	}
	return m
}

// MinY is the top-most y of the bounding box
func (w Word) MinY() float64 {
	m := math.Inf(1)
	for _, p := range w.BBox {
		m = math.Min(m, p.Y)
	}
	return m
}

// RectBBox builds the clockwise corners of an axis-aligned box
func RectBBox(x1, y1, x2, y2 float64) [4]Point {
	return [4]Point{{x1, y1}, {x2, y1}, {x2, y2}, {x1, y2}}
}

// NewResult fills RawText and ConfidenceAvg from the word list
func NewResult(backend string, words []Word, width, height int) *Result {
	res := &Result{
		Words:   words,
		Width:   width,
		Height:  height,
		Backend: backend,
	}

	texts := make([]string, 0, len(words))
	var sum float64
	for _, w := range words {
		texts = append(texts, w.Text)
		sum += w.Confidence
	}
	res.RawText = joinWords(texts)
	if len(words) > 0 {
		res.ConfidenceAvg = math.Round(sum/float64(len(words))*100) / 100
	}
	return res
}

func joinWords(texts []string) string {
	return strings.Join(texts, " ")
}

func marshalPair(x, y float64) ([]byte, error) {
	return json.Marshal([2]float64{x, y})
}

func unmarshalPair(data []byte) (float64, float64, error) {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return 0, 0, fmt.Errorf("point must be [x, y]: %w", err)
	}
	if len(pair) != 2 {
		return 0, 0, fmt.Errorf("point must have 2 coordinates, got %d", len(pair))
	}
	return pair[0], pair[1], nil
}
