package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/adverant/nexus/slipocr-worker/internal/errors"
)

type recordingWriter struct {
	stages []string
}

func (r *recordingWriter) SaveDebugImage(_ context.Context, _, stage string, _ []byte) error {
	r.stages = append(r.stages, stage)
	return nil
}

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(100 + (x*50)/w)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "slip.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestFilterChainPreprocess(t *testing.T) {
	path := writeTestPNG(t, 100, 200)
	debug := &recordingWriter{}

	img, err := NewFilterChain(debug).Preprocess(context.Background(), "job-1", path)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	if img.Width != 130 || img.Height != 260 {
		t.Errorf("size = %dx%d, want 130x260", img.Width, img.Height)
	}

	decoded, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if decoded.Bounds().Dx() != img.Width {
		t.Errorf("encoded width = %d", decoded.Bounds().Dx())
	}

	if len(debug.stages) != 2 || debug.stages[0] != StageOriginal || debug.stages[1] != StagePreprocessed {
		t.Errorf("debug stages = %v", debug.stages)
	}
}

func TestFilterChainMissingFile(t *testing.T) {
	_, err := NewFilterChain(nil).Preprocess(context.Background(), "job-1", "/nonexistent/slip.png")
	if err == nil {
		t.Fatal("expected error for missing file")
	}

	// the processor maps this to PREPROCESSING_FAILED
	pe := errors.NewPreprocessingFailedError("job-1", "/nonexistent/slip.png", err)
	if pe.Code != errors.ErrorPreprocessingFailed {
		t.Errorf("code = %s", pe.Code)
	}
}

func TestFilterChainUndecodable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slip.png")
	if err := os.WriteFile(path, []byte("definitely not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFilterChain(nil).Preprocess(context.Background(), "job-1", path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestContrastStretch(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 1))
	g.Pix = []uint8{100, 125, 150}

	out := ContrastStretch(g)
	want := []uint8{0, 127, 255}
	for i := range want {
		if out.Pix[i] != want[i] {
			t.Errorf("Pix[%d] = %d, want %d", i, out.Pix[i], want[i])
		}
	}

	flat := image.NewGray(image.Rect(0, 0, 2, 2))
	if ContrastStretch(flat) != flat {
		t.Error("flat image should be returned unchanged")
	}
}

func TestBlur3x3(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 3))
	g.Pix[4] = 90 // centre

	out := Blur3x3(g)
	if out.Pix[4] != 10 {
		t.Errorf("centre = %d, want 10", out.Pix[4])
	}
	// corner averages 4 pixels: (90)/4
	if out.Pix[0] != 22 {
		t.Errorf("corner = %d, want 22", out.Pix[0])
	}
}

func TestDetectMimeType(t *testing.T) {
	heic := append([]byte{0, 0, 0, 0x18}, []byte("ftypheic0000")...)
	tests := map[string][]byte{
		"image/png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
		"image/jpeg": {0xFF, 0xD8, 0xFF, 0xE0},
		"image/heic": heic,
		"":           {0x01},
	}
	for want, data := range tests {
		if got := detectMimeTypeFromMagicBytes(data); got != want {
			t.Errorf("detectMimeTypeFromMagicBytes() = %q, want %q", got, want)
		}
	}
	if !isHEICFormat(heic) {
		t.Error("isHEICFormat() = false for heic brand")
	}
}
