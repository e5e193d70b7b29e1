package ingest

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// canonicalSize is the fixed resolution raster uploads are stretched to
// before upload and inference.
const canonicalSize = 1024

// normalizeRaster decodes a raster upload and re-encodes it as a PNG at the
// canonical resolution. Aspect ratio is not preserved; the model expects a
// square input.
func normalizeRaster(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode raster upload: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, canonicalSize, canonicalSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, fmt.Errorf("encode canonical png: %w", err)
	}
	return out.Bytes(), nil
}
