/**
 * Image preprocessing for slip OCR
 *
 * Decodes the slip photo, then runs a fixed filter chain tuned for
 * Thai banking-app screenshots: grayscale, 3x3 blur, contrast stretch
 * and a 1.3x Catmull-Rom upscale. The result is re-encoded as PNG.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"os"

	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/adverant/nexus/slipocr-worker/internal/logging"
	"github.com/adverant/nexus/slipocr-worker/internal/ocr"
)

// Debug image stages
const (
	StageOriginal     = "original"
	StagePreprocessed = "preprocessed"
)

// DefaultUpscale is applied after the contrast stretch
const DefaultUpscale = 1.3

// Preprocessor turns a slip file into an image ready for recognition
type Preprocessor interface {
	Preprocess(ctx context.Context, jobID, imagePath string) (*ocr.Image, error)
}

// DebugImageWriter stores intermediate images for troubleshooting
type DebugImageWriter interface {
	SaveDebugImage(ctx context.Context, jobID, stage string, data []byte) error
}

// Filter is one step of the preprocessing chain
type Filter func(*image.Gray) *image.Gray

// FilterChain is the default Preprocessor
type FilterChain struct {
	filters []Filter
	debug   DebugImageWriter
	logger  *logging.Logger
}

// NewFilterChain builds the default chain. debug may be nil.
func NewFilterChain(debug DebugImageWriter) *FilterChain {
	return &FilterChain{
		filters: []Filter{
			Blur3x3,
			ContrastStretch,
			Upscale(DefaultUpscale),
		},
		debug:  debug,
		logger: logging.NewLogger("preprocess"),
	}
}

// Preprocess reads, decodes and filters the image at imagePath
func (c *FilterChain) Preprocess(ctx context.Context, jobID, imagePath string) (*ocr.Image, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	src, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	c.saveDebug(ctx, jobID, StageOriginal, src)

	out := c.Apply(src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode preprocessed image: %w", err)
	}
	c.saveDebugBytes(ctx, jobID, StagePreprocessed, buf.Bytes())

	b := out.Bounds()
	c.logger.Debug("Image preprocessed",
		"job_id", jobID,
		"source_width", src.Bounds().Dx(),
		"source_height", src.Bounds().Dy(),
		"width", b.Dx(),
		"height", b.Dy(),
	)

	return &ocr.Image{Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// Apply converts img to grayscale and runs every filter in order
func (c *FilterChain) Apply(img image.Image) *image.Gray {
	g := Grayscale(img)
	for _, f := range c.filters {
		g = f(g)
	}
	return g
}

func (c *FilterChain) saveDebug(ctx context.Context, jobID, stage string, img image.Image) {
	if c.debug == nil {
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.logger.Warn("Failed to encode debug image", "job_id", jobID, "stage", stage, "error", err)
		return
	}
	c.saveDebugBytes(ctx, jobID, stage, buf.Bytes())
}

func (c *FilterChain) saveDebugBytes(ctx context.Context, jobID, stage string, data []byte) {
	if c.debug == nil {
		return
	}
	if err := c.debug.SaveDebugImage(ctx, jobID, stage, data); err != nil {
		c.logger.Warn("Failed to save debug image", "job_id", jobID, "stage", stage, "error", err)
	}
}

// decodeImage handles HEIC separately; everything else goes through image.Decode
func decodeImage(data []byte) (image.Image, error) {
	if isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode HEIC image: %w", err)
		}
		return img, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image (detected %q): %w", detectMimeTypeFromMagicBytes(data), err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty %s image", format)
	}
	return img, nil
}

// isHEICFormat checks the ftyp box brand used by iPhone photos
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// detectMimeTypeFromMagicBytes names the format for error messages
func detectMimeTypeFromMagicBytes(data []byte) string {
	switch {
	case len(data) < 4:
		return ""
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "image/gif"
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}), bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case isHEICFormat(data):
		return "image/heic"
	}
	return "application/octet-stream"
}

// Grayscale converts any image to 8-bit gray with origin (0,0)
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// Blur3x3 applies a box blur; edge pixels average over the in-bounds neighbours
func Blur3x3(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					p := image.Pt(x+dx, y+dy)
					if !p.In(b) {
						continue
					}
					sum += int(src.GrayAt(p.X, p.Y).Y)
					n++
				}
			}
			dst.Pix[dst.PixOffset(x, y)] = uint8(sum / n)
		}
	}
	return dst
}

// ContrastStretch maps the darkest pixel to 0 and the brightest to 255.
// A flat image is returned unchanged.
func ContrastStretch(src *image.Gray) *image.Gray {
	lo, hi := uint8(255), uint8(0)
	for _, v := range src.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return src
	}

	dst := image.NewGray(src.Bounds())
	span := int(hi - lo)
	for i, v := range src.Pix {
		dst.Pix[i] = uint8(int(v-lo) * 255 / span)
	}
	return dst
}

// Upscale returns a filter resizing by factor with Catmull-Rom interpolation
func Upscale(factor float64) Filter {
	return func(src *image.Gray) *image.Gray {
		b := src.Bounds()
		w := int(float64(b.Dx()) * factor)
		h := int(float64(b.Dy()) * factor)
		if w < 1 || h < 1 || factor == 1 {
			return src
		}
		dst := image.NewGray(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		return dst
	}
}
