package inference

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

// Abnormality is one model finding. BBox is [x1, y1, x2, y2];
// Segmentation holds polygon rings as flat [x, y, x, y, ...] slices.
type Abnormality struct {
	AbnormalityID int         `json:"abnormality_id"`
	Confidence    float64     `json:"confidence"`
	BBox          []float64   `json:"bbox"`
	Segmentation  [][]float64 `json:"segmentation"`
}

type CTR struct {
	Ratio *float64 `json:"ratio"`
	Image string   `json:"image"`
}

// Response is the inference service's verdict for one canonical raster
// image. LungsFound=false is the soft-rejection signal: the image is not a
// lung study and nothing should be persisted for it.
type Response struct {
	LungsFound     bool          `json:"lungs_found"`
	IsNormal       bool          `json:"is_normal"`
	Abnormalities  []Abnormality `json:"abnormalities"`
	TBScore        *float64      `json:"tb_score"`
	Heatmap        string        `json:"heatmap"`
	CLAHE          string        `json:"clahe"`
	BoneSuppressed string        `json:"bone_suppressed"`
	CTR            *CTR          `json:"ctr"`
	LungsBBox      []float64     `json:"lungs_bbox"`
}

type Client interface {
	Analyze(ctx context.Context, imageURL string, isInverted *bool) (*Response, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("INFERENCE_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing env var INFERENCE_BASE_URL")
	}
	return NewClientWithBaseURL(log, baseURL), nil
}

func NewClientWithBaseURL(log *logger.Logger, baseURL string) Client {
	return &client{
		log:        log.With("client", "InferenceClient"),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}
}

type invokeRequest struct {
	Data invokeData `json:"data"`
}

type invokeData struct {
	URL        string `json:"url"`
	IsInverted *bool  `json:"isInverted"`
}

func (c *client) Analyze(ctx context.Context, imageURL string, isInverted *bool) (*Response, error) {
	payload, err := json.Marshal(invokeRequest{Data: invokeData{URL: imageURL, IsInverted: isInverted}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invocations", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("inference service: %w", httpx.ErrorFromResponse(resp))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return &out, nil
}
