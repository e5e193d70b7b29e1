package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/sse"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, job *Job) Result

func (f runnerFunc) Process(ctx context.Context, job *Job) Result { return f(ctx, job) }

// collectEvents reads n events from the client's stream, failing the test
// if they do not arrive in time.
func collectEvents(t *testing.T, client *sse.Client, n int) []sse.Event {
	t.Helper()
	events := make([]sse.Event, 0, n)
	deadline := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case ev := <-client.Outbound:
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events: got %d of %d", len(events), n)
		}
	}
	return events
}

// encodeTestPNG renders a small gray square, stand-in for an x-ray upload.
func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}
