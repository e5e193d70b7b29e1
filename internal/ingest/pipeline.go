package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/radvis/radvis-backend/internal/clients/convert"
	"github.com/radvis/radvis-backend/internal/clients/gcs"
	"github.com/radvis/radvis-backend/internal/clients/inference"
	"github.com/radvis/radvis-backend/internal/httpx"
	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/repos"
	"github.com/radvis/radvis-backend/internal/types"
	"github.com/radvis/radvis-backend/internal/utils"
)

// rejectionNotLungXray is the user-facing message for studies the model
// declined. Carried on a completed frame, not an error frame.
const rejectionNotLungXray = "The image provided is not a valid lung X-ray"

// Pipeline runs one uploaded file through dispatch, normalization, upload,
// conversion, inference, validation, persistence and best-effort overlay
// rendering. It holds no per-job state and is shared by every worker pool.
type Pipeline struct {
	log           *logger.Logger
	db            *gorm.DB
	bucket        gcs.BucketService
	converter     convert.Client
	model         inference.Client
	patients      repos.PatientRepo
	xrays         repos.XrayRepo
	abnormalities repos.XrayAbnormalityRepo
	annotator     *Annotator
	httpClient    *http.Client
}

func NewPipeline(
	baseLog *logger.Logger,
	db *gorm.DB,
	bucket gcs.BucketService,
	converter convert.Client,
	model inference.Client,
	patients repos.PatientRepo,
	xrays repos.XrayRepo,
	abnormalities repos.XrayAbnormalityRepo,
	annotator *Annotator,
) *Pipeline {
	return &Pipeline{
		log:           baseLog.With("component", "IngestPipeline"),
		db:            db,
		bucket:        bucket,
		converter:     converter,
		model:         model,
		patients:      patients,
		xrays:         xrays,
		abnormalities: abnormalities,
		annotator:     annotator,
		httpClient:    &http.Client{Timeout: time.Minute},
	}
}

// Process runs the full stage sequence for one job and returns its terminal
// state. Every exit path after enqueue is funneled through the Result union;
// nothing is ever raised back to the upload endpoint.
func (p *Pipeline) Process(ctx context.Context, job *Job) Result {
	defer p.cleanup(job)

	raw, err := job.File.Bytes()
	if err != nil {
		return Failed(StageDispatch, err)
	}

	kind := ClassifyFileName(job.File.Name)
	if kind == KindUnsupported {
		return Rejected(fmt.Sprintf("Unsupported file type: %s", job.File.Name))
	}

	uniqueID := shortID()

	var (
		originalURL    string
		canonicalURL   string
		canonicalBytes []byte
		isInverted     *bool
	)

	switch kind {
	case KindRaster:
		canonical, err := normalizeRaster(raw)
		if err != nil {
			return Failed(StageNormalize, err)
		}
		key := fmt.Sprintf("xrays/%s-%s.png", uniqueID, utils.Slugify(baseName(job.File.Name)))
		if err := p.bucket.UploadFile(ctx, gcs.BucketCategoryXray, key, bytes.NewReader(canonical)); err != nil {
			return Failed(StageUpload, err)
		}
		canonicalURL = p.bucket.GetPublicURL(gcs.BucketCategoryXray, key)
		originalURL = canonicalURL
		canonicalBytes = canonical

	case KindDICOM:
		key := fmt.Sprintf("xrays/dicom/%s-%s%s", uniqueID, utils.Slugify(baseName(job.File.Name)), strings.ToLower(path.Ext(job.File.Name)))
		if err := p.bucket.UploadFile(ctx, gcs.BucketCategoryXray, key, bytes.NewReader(raw)); err != nil {
			return Failed(StageUpload, err)
		}
		originalURL = p.bucket.GetPublicURL(gcs.BucketCategoryXray, key)

		conversion, err := p.converter.ConvertToPNG(ctx, originalURL)
		if err != nil {
			return Failed(StageConvert, err)
		}
		canonicalURL = conversion.PNGURL
		isInverted = conversion.IsInverted()
	}

	modelResponse, err := p.model.Analyze(ctx, canonicalURL, isInverted)
	if err != nil {
		return Failed(StageInfer, err)
	}

	if !modelResponse.LungsFound {
		return Rejected(rejectionNotLungXray)
	}

	patient, xray, err := p.persist(ctx, job, uniqueID, originalURL, canonicalURL, modelResponse)
	if err != nil {
		return Failed(StagePersist, err)
	}

	p.renderAnnotated(ctx, xray, canonicalURL, canonicalBytes, modelResponse)

	return Succeeded(patient, xray)
}

// persist writes the patient (find-or-create by natural id), the xray and
// its abnormality rows. The xray and its abnormalities share one
// transaction; the patient row is resolved first and is not rolled back if
// the rest fails.
func (p *Pipeline) persist(ctx context.Context, job *Job, uniqueID, originalURL, canonicalURL string, modelResponse *inference.Response) (*types.Patient, *types.Xray, error) {
	patientID := "RV" + uniqueID
	patient, err := p.patients.FindOrCreate(ctx, nil, &types.Patient{
		PatientID: patientID,
		Slug:      utils.Slugify(patientID),
		Age:       0,
		Sex:       "Unknown",
		Location:  "Unknown",
		DoctorID:  job.DoctorID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("find-or-create patient: %w", err)
	}

	xray := &types.Xray{
		URL:         canonicalURL,
		OriginalURL: originalURL,
		Slug:        fmt.Sprintf("%s-%s", utils.Slugify(lastURLSegment(canonicalURL)), uuid.NewString()),
		PatientID:   patient.ID,
		LungsFound:  modelResponse.LungsFound,
		IsNormal:    modelResponse.IsNormal,
		TBScore:     modelResponse.TBScore,
	}
	if ctr := modelResponse.CTR; ctr != nil {
		xray.CTRRatio = ctr.Ratio
		xray.CTRImageURL = strPtr(ctr.Image)
	}
	if bbox := modelResponse.LungsBBox; len(bbox) == 4 {
		x, y := bbox[0], bbox[1]
		w, h := bbox[2]-bbox[0], bbox[3]-bbox[1]
		xray.ZoomX, xray.ZoomY, xray.ZoomWidth, xray.ZoomHeight = &x, &y, &w, &h
	}
	xray.Heatmap = strPtr(modelResponse.Heatmap)
	xray.CLAHE = strPtr(modelResponse.CLAHE)
	xray.BoneSuppression = strPtr(modelResponse.BoneSuppressed)

	err = p.inTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := p.xrays.Create(ctx, tx, xray); err != nil {
			return fmt.Errorf("create xray: %w", err)
		}
		if modelResponse.IsNormal || len(modelResponse.Abnormalities) == 0 {
			return nil
		}

		rows := make([]*types.XrayAbnormality, 0, len(modelResponse.Abnormalities))
		for _, abn := range modelResponse.Abnormalities {
			row := &types.XrayAbnormality{
				XrayID: xray.ID,
				Name:   ClassForID(abn.AbnormalityID).Name,
				Score:  abn.Confidence,
			}
			if coords, err := json.Marshal(abn.BBox); err == nil {
				row.AnnotationCoordinates = datatypes.JSON(coords)
			}
			if seg, err := json.Marshal(abn.Segmentation); err == nil {
				row.Segmentation = datatypes.JSON(seg)
			}
			rows = append(rows, row)
		}
		created, err := p.abnormalities.CreateBulk(ctx, tx, rows)
		if err != nil {
			return fmt.Errorf("create abnormalities: %w", err)
		}
		for _, row := range created {
			xray.Abnormalities = append(xray.Abnormalities, *row)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return patient, xray, nil
}

// renderAnnotated is best-effort: a failure is logged and the already
// persisted study keeps a null annotated-image URL.
func (p *Pipeline) renderAnnotated(ctx context.Context, xray *types.Xray, canonicalURL string, canonicalBytes []byte, modelResponse *inference.Response) {
	if p.annotator == nil || modelResponse.IsNormal || len(modelResponse.Abnormalities) == 0 {
		return
	}

	imageBytes := canonicalBytes
	if imageBytes == nil {
		fetched, err := p.fetchImage(ctx, canonicalURL)
		if err != nil {
			p.log.Warn("Failed to fetch canonical image for annotation", "url", canonicalURL, "error", err)
			return
		}
		imageBytes = fetched
	}

	rendered, err := p.annotator.Render(imageBytes, modelResponse.Abnormalities)
	if err != nil {
		p.log.Warn("Failed to render annotated image", "xrayID", xray.ID, "error", err)
		return
	}

	key := fmt.Sprintf("annotated/%s-annotated.png", xray.ID)
	if err := p.bucket.UploadFile(ctx, gcs.BucketCategoryDerived, key, bytes.NewReader(rendered)); err != nil {
		p.log.Warn("Failed to upload annotated image", "xrayID", xray.ID, "error", err)
		return
	}
	annotatedURL := p.bucket.GetPublicURL(gcs.BucketCategoryDerived, key)

	if err := p.xrays.UpdateFields(ctx, nil, xray.ID, map[string]interface{}{"model_annotated": annotatedURL}); err != nil {
		p.log.Warn("Failed to record annotated image URL", "xrayID", xray.ID, "error", err)
		return
	}
	xray.ModelAnnotated = &annotatedURL
}

func (p *Pipeline) cleanup(job *Job) {
	if job.File.TempPath == "" {
		return
	}
	if err := os.Remove(job.File.TempPath); err != nil && !os.IsNotExist(err) {
		p.log.Warn("Failed to remove uploaded temp file", "path", job.File.TempPath, "error", err)
	}
}

func (p *Pipeline) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpx.ErrorFromResponse(resp)
	}
	return io.ReadAll(resp.Body)
}

func (p *Pipeline) inTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if p.db == nil {
		return fn(nil)
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func baseName(name string) string {
	return strings.TrimSuffix(path.Base(name), path.Ext(name))
}

func lastURLSegment(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
