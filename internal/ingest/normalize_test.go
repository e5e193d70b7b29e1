package ingest

import (
	"bytes"
	"image/png"
	"testing"
)

func TestNormalizeRaster_StretchesToCanonicalSize(t *testing.T) {
	raw := encodeTestPNG(t, 64, 32)

	out, err := normalizeRaster(raw)
	if err != nil {
		t.Fatalf("normalizeRaster: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode normalized output: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != canonicalSize || bounds.Dy() != canonicalSize {
		t.Fatalf("normalized size = %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), canonicalSize, canonicalSize)
	}
}

func TestNormalizeRaster_RejectsGarbage(t *testing.T) {
	if _, err := normalizeRaster([]byte("not an image")); err == nil {
		t.Fatal("expected error for undecodable input")
	}
}
