package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/radvis/radvis-backend/internal/httpx"
	"github.com/radvis/radvis-backend/internal/logger"
)

// Conversion is the conversion service's answer for one DICOM object: the
// canonical raster rendition plus the DICOM photometric interpretation,
// which decides whether the image is tonally inverted.
type Conversion struct {
	PNGURL                    string `json:"png_url"`
	PhotometricInterpretation string `json:"photometric_interpretation"`
}

const (
	PhotometricMonochrome1 = "MONOCHROME1"
	PhotometricMonochrome2 = "MONOCHROME2"
)

// IsInverted maps the photometric interpretation onto the orientation flag
// the inference service expects. Unknown interpretations yield nil.
func (c *Conversion) IsInverted() *bool {
	switch c.PhotometricInterpretation {
	case PhotometricMonochrome1:
		v := true
		return &v
	case PhotometricMonochrome2:
		v := false
		return &v
	default:
		return nil
	}
}

type Client interface {
	ConvertToPNG(ctx context.Context, fileURL string) (*Conversion, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("CONVERT_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing env var CONVERT_BASE_URL")
	}
	return NewClientWithBaseURL(log, baseURL), nil
}

func NewClientWithBaseURL(log *logger.Logger, baseURL string) Client {
	return &client{
		log:        log.With("client", "ConvertClient"),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *client) ConvertToPNG(ctx context.Context, fileURL string) (*Conversion, error) {
	payload, err := json.Marshal(map[string]string{"file_url": fileURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/dicom/convert-to-png/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("conversion service: %w", httpx.ErrorFromResponse(resp))
	}

	var out Conversion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode conversion response: %w", err)
	}
	if out.PNGURL == "" {
		return nil, fmt.Errorf("conversion response missing png_url")
	}
	return &out, nil
}
