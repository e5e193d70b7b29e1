package ingest

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/radvis/radvis-backend/internal/clients/inference"
	"github.com/radvis/radvis-backend/internal/logger"
)

// Annotator composites model findings onto the canonical image: polygon
// outline and translucent fill in the class color, class name drawn above
// the topmost vertex. Labels are skipped when no font is configured.
type Annotator struct {
	log      *logger.Logger
	fontFace font.Face
}

func NewAnnotator(log *logger.Logger) (*Annotator, error) {
	annotatorLog := log.With("component", "Annotator")

	var face font.Face
	if fontPath := strings.TrimSpace(os.Getenv("ANNOTATION_FONT")); fontPath != "" {
		loaded, err := loadFontFace(fontPath, 18)
		if err != nil {
			return nil, fmt.Errorf("could not load annotation font: %w", err)
		}
		face = loaded
	} else {
		annotatorLog.Warn("ANNOTATION_FONT not set; overlay labels disabled")
	}

	return &Annotator{log: annotatorLog, fontFace: face}, nil
}

func loadFontFace(path string, points float64) (font.Face, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parsed, err := truetype.Parse(raw)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(parsed, &truetype.Options{Size: points}), nil
}

// Render returns the annotated PNG. Findings without a usable polygon
// (fewer than three vertices) are skipped.
func (a *Annotator) Render(imageBytes []byte, abnormalities []inference.Abnormality) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode canonical image: %w", err)
	}

	dc := gg.NewContextForImage(src)
	if a.fontFace != nil {
		dc.SetFontFace(a.fontFace)
	}

	for _, abn := range abnormalities {
		if len(abn.Segmentation) == 0 {
			continue
		}
		seg := abn.Segmentation[0]
		if len(seg) < 6 {
			continue
		}

		class := ClassForID(abn.AbnormalityID)

		dc.NewSubPath()
		dc.MoveTo(seg[0], seg[1])
		topX, topY := seg[0], seg[1]
		for i := 2; i+1 < len(seg); i += 2 {
			dc.LineTo(seg[i], seg[i+1])
			if seg[i+1] < topY {
				topX, topY = seg[i], seg[i+1]
			}
		}
		dc.ClosePath()

		r, g, b := float64(class.Color.R)/255, float64(class.Color.G)/255, float64(class.Color.B)/255
		dc.SetRGBA(r, g, b, 0.2)
		dc.FillPreserve()
		dc.SetRGBA(r, g, b, 1)
		dc.SetLineWidth(2)
		dc.Stroke()

		if a.fontFace != nil {
			labelY := topY - 10
			if labelY < 20 {
				labelY = 20
			}
			dc.SetRGBA(r, g, b, 1)
			dc.DrawString(class.Name, topX, labelY)
		}
	}

	var out bytes.Buffer
	if err := dc.EncodePNG(&out); err != nil {
		return nil, fmt.Errorf("encode annotated png: %w", err)
	}
	return out.Bytes(), nil
}
