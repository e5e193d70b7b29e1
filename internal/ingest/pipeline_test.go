package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/radvis/radvis-backend/internal/clients/convert"
	"github.com/radvis/radvis-backend/internal/clients/gcs"
	"github.com/radvis/radvis-backend/internal/clients/inference"
	"github.com/radvis/radvis-backend/internal/httpx"
	"github.com/radvis/radvis-backend/internal/sse"
	"github.com/radvis/radvis-backend/internal/types"
)

// ---- fakes ----

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (fb *fakeBucket) objectKey(category gcs.BucketCategory, key string) string {
	return string(category) + "/" + key
}

func (fb *fakeBucket) UploadFile(ctx context.Context, category gcs.BucketCategory, key string, file io.Reader) error {
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.objects[fb.objectKey(category, key)] = data
	return nil
}

func (fb *fakeBucket) DownloadFile(ctx context.Context, category gcs.BucketCategory, key string) (io.ReadCloser, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	data, ok := fb.objects[fb.objectKey(category, key)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (fb *fakeBucket) DeleteFile(ctx context.Context, category gcs.BucketCategory, key string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	delete(fb.objects, fb.objectKey(category, key))
	return nil
}

func (fb *fakeBucket) GetPublicURL(category gcs.BucketCategory, key string) string {
	return "https://cdn.test/" + fb.objectKey(category, key)
}

func (fb *fakeBucket) count() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.objects)
}

func (fb *fakeBucket) keysWithPrefix(prefix string) []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var keys []string
	for k := range fb.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

type fakeConverter struct {
	mu         sync.Mutex
	conversion *convert.Conversion
	err        error
	gotFileURL string
	calls      int
}

func (fc *fakeConverter) ConvertToPNG(ctx context.Context, fileURL string) (*convert.Conversion, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.calls++
	fc.gotFileURL = fileURL
	if fc.err != nil {
		return nil, fc.err
	}
	return fc.conversion, nil
}

type fakeInference struct {
	mu            sync.Mutex
	response      *inference.Response
	err           error
	gotURL        string
	gotIsInverted *bool
	calls         int
}

func (fi *fakeInference) Analyze(ctx context.Context, imageURL string, isInverted *bool) (*inference.Response, error) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.calls++
	fi.gotURL = imageURL
	fi.gotIsInverted = isInverted
	if fi.err != nil {
		return nil, fi.err
	}
	return fi.response, nil
}

type fakePatientRepo struct {
	mu       sync.Mutex
	patients map[string]*types.Patient
}

func newFakePatientRepo() *fakePatientRepo {
	return &fakePatientRepo{patients: make(map[string]*types.Patient)}
}

func (fp *fakePatientRepo) FindOrCreate(ctx context.Context, tx *gorm.DB, candidate *types.Patient) (*types.Patient, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if existing, ok := fp.patients[candidate.PatientID]; ok {
		return existing, nil
	}
	created := *candidate
	created.ID = uuid.New()
	fp.patients[candidate.PatientID] = &created
	return &created, nil
}

func (fp *fakePatientRepo) GetByPatientID(ctx context.Context, tx *gorm.DB, patientID string) (*types.Patient, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if p, ok := fp.patients[patientID]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (fp *fakePatientRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Patient, error) {
	return nil, nil
}

func (fp *fakePatientRepo) count() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.patients)
}

type fakeXrayRepo struct {
	mu      sync.Mutex
	created []*types.Xray
	updates map[uuid.UUID]map[string]interface{}
}

func newFakeXrayRepo() *fakeXrayRepo {
	return &fakeXrayRepo{updates: make(map[uuid.UUID]map[string]interface{})}
}

func (fx *fakeXrayRepo) Create(ctx context.Context, tx *gorm.DB, xray *types.Xray) (*types.Xray, error) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	xray.ID = uuid.New()
	fx.created = append(fx.created, xray)
	return xray, nil
}

func (fx *fakeXrayRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Xray, error) {
	return nil, gorm.ErrRecordNotFound
}

func (fx *fakeXrayRepo) GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Xray, error) {
	return nil, gorm.ErrRecordNotFound
}

func (fx *fakeXrayRepo) GetByPatientIDs(ctx context.Context, tx *gorm.DB, patientIDs []uuid.UUID) ([]*types.Xray, error) {
	return nil, nil
}

func (fx *fakeXrayRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]interface{}) error {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.updates[id] = fields
	return nil
}

func (fx *fakeXrayRepo) count() int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return len(fx.created)
}

type fakeAbnormalityRepo struct {
	mu      sync.Mutex
	created []*types.XrayAbnormality
}

func (fa *fakeAbnormalityRepo) CreateBulk(ctx context.Context, tx *gorm.DB, abnormalities []*types.XrayAbnormality) ([]*types.XrayAbnormality, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	for _, row := range abnormalities {
		row.ID = uuid.New()
		fa.created = append(fa.created, row)
	}
	return abnormalities, nil
}

func (fa *fakeAbnormalityRepo) GetByXrayIDs(ctx context.Context, tx *gorm.DB, xrayIDs []uuid.UUID) ([]*types.XrayAbnormality, error) {
	return nil, nil
}

func (fa *fakeAbnormalityRepo) count() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.created)
}

type pipelineFixture struct {
	pipeline  *Pipeline
	bucket    *fakeBucket
	converter *fakeConverter
	model     *fakeInference
	patients  *fakePatientRepo
	xrays     *fakeXrayRepo
	abns      *fakeAbnormalityRepo
	annotator *Annotator
}

func newPipelineFixture(t *testing.T, withAnnotator bool) *pipelineFixture {
	t.Helper()
	log := testLogger(t)

	f := &pipelineFixture{
		bucket:    newFakeBucket(),
		converter: &fakeConverter{},
		model:     &fakeInference{},
		patients:  newFakePatientRepo(),
		xrays:     newFakeXrayRepo(),
		abns:      &fakeAbnormalityRepo{},
	}
	if withAnnotator {
		t.Setenv("ANNOTATION_FONT", "")
		annotator, err := NewAnnotator(log)
		if err != nil {
			t.Fatalf("NewAnnotator: %v", err)
		}
		f.annotator = annotator
	}
	f.pipeline = NewPipeline(log, nil, f.bucket, f.converter, f.model, f.patients, f.xrays, f.abns, f.annotator)
	return f
}

func abnormalResponse() *inference.Response {
	score := 0.87
	ratio := 0.42
	return &inference.Response{
		LungsFound: true,
		IsNormal:   false,
		Abnormalities: []inference.Abnormality{
			{
				AbnormalityID: 0,
				Confidence:    0.91,
				BBox:          []float64{100, 100, 300, 300},
				Segmentation:  [][]float64{{100, 100, 300, 100, 300, 300, 100, 300}},
			},
		},
		TBScore:        &score,
		Heatmap:        "https://cdn.test/derived/heatmap.png",
		CLAHE:          "https://cdn.test/derived/clahe.png",
		BoneSuppressed: "https://cdn.test/derived/bone.png",
		CTR:            &inference.CTR{Ratio: &ratio, Image: "https://cdn.test/derived/ctr.png"},
		LungsBBox:      []float64{50, 60, 900, 950},
	}
}

// ---- tests ----

func TestPipeline_RasterSuccess(t *testing.T) {
	f := newPipelineFixture(t, true)
	f.model.response = abnormalResponse()

	job := &Job{
		File:     File{Name: "Chest Study 01.png", Data: encodeTestPNG(t, 64, 64)},
		DoctorID: uuid.New(),
		ClientID: "client-1",
		Total:    1,
	}

	result := f.pipeline.Process(context.Background(), job)
	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %v (stage %s, err %v), want success", result.Outcome, result.Stage, result.Err)
	}

	if f.patients.count() != 1 {
		t.Fatalf("persisted %d patients, want 1", f.patients.count())
	}
	if !strings.HasPrefix(result.Patient.PatientID, "RV") {
		t.Fatalf("patient external id %q missing RV prefix", result.Patient.PatientID)
	}
	if result.Patient.DoctorID != job.DoctorID {
		t.Fatal("patient not attributed to the uploading doctor")
	}

	if f.xrays.count() != 1 {
		t.Fatalf("persisted %d xrays, want 1", f.xrays.count())
	}
	xray := result.Xray
	if !strings.HasPrefix(xray.URL, "https://cdn.test/xray/xrays/") || !strings.HasSuffix(xray.URL, ".png") {
		t.Fatalf("canonical URL %q not under the xray prefix", xray.URL)
	}
	if xray.OriginalURL != xray.URL {
		t.Fatal("raster upload should use the canonical rendition as its original")
	}
	if xray.TBScore == nil || *xray.TBScore != 0.87 {
		t.Fatalf("tb score not carried over: %v", xray.TBScore)
	}
	if xray.CTRRatio == nil || *xray.CTRRatio != 0.42 {
		t.Fatalf("ctr ratio not carried over: %v", xray.CTRRatio)
	}
	if xray.ZoomX == nil || *xray.ZoomX != 50 || xray.ZoomWidth == nil || *xray.ZoomWidth != 850 {
		t.Fatal("lungs bbox not mapped onto zoom fields")
	}

	if f.abns.count() != 1 {
		t.Fatalf("persisted %d abnormality rows, want 1", f.abns.count())
	}
	if got := f.abns.created[0].Name; got != "Lung Nodules" {
		t.Fatalf("abnormality name = %q, want class name", got)
	}
	if len(xray.Abnormalities) != 1 {
		t.Fatal("result xray missing its abnormality rows")
	}

	// The converter never runs on the raster branch.
	if f.converter.calls != 0 {
		t.Fatalf("converter called %d times for a raster upload", f.converter.calls)
	}

	// Best-effort overlay: derived object uploaded and URL recorded.
	if got := f.bucket.keysWithPrefix("derived/annotated/"); len(got) != 1 {
		t.Fatalf("annotated rendition keys = %v, want exactly one", got)
	}
	fields, ok := f.xrays.updates[xray.ID]
	if !ok {
		t.Fatal("annotated URL was never written back")
	}
	if xray.ModelAnnotated == nil || *xray.ModelAnnotated != fields["model_annotated"] {
		t.Fatal("result xray does not carry the annotated URL")
	}
}

func TestPipeline_UnsupportedKindRejected(t *testing.T) {
	f := newPipelineFixture(t, false)

	job := &Job{File: File{Name: "report.pdf", Data: []byte("%PDF")}, DoctorID: uuid.New(), Total: 1}
	result := f.pipeline.Process(context.Background(), job)

	if result.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %v, want rejection", result.Outcome)
	}
	if f.bucket.count() != 0 || f.patients.count() != 0 || f.xrays.count() != 0 {
		t.Fatal("unsupported upload left side effects behind")
	}
	if f.model.calls != 0 {
		t.Fatal("inference ran for an unsupported upload")
	}
}

func TestPipeline_NotLungXrayRejectedWithoutPersisting(t *testing.T) {
	f := newPipelineFixture(t, false)
	f.model.response = &inference.Response{LungsFound: false}

	job := &Job{File: File{Name: "cat.jpg", Data: encodeTestPNG(t, 32, 32)}, DoctorID: uuid.New(), Total: 1}
	result := f.pipeline.Process(context.Background(), job)

	if result.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %v, want rejection", result.Outcome)
	}
	if result.Reason != "The image provided is not a valid lung X-ray" {
		t.Fatalf("rejection reason = %q", result.Reason)
	}
	if f.patients.count() != 0 || f.xrays.count() != 0 || f.abns.count() != 0 {
		t.Fatal("soft-rejected upload persisted records")
	}
}

func TestPipeline_DICOMBranchUsesConversion(t *testing.T) {
	f := newPipelineFixture(t, false)
	f.converter.conversion = &convert.Conversion{
		PNGURL:                    "https://cdn.test/converted/study.png",
		PhotometricInterpretation: convert.PhotometricMonochrome1,
	}
	f.model.response = &inference.Response{LungsFound: true, IsNormal: true}

	job := &Job{File: File{Name: "Study.dcm", Data: []byte("DICM...")}, DoctorID: uuid.New(), Total: 1}
	result := f.pipeline.Process(context.Background(), job)
	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %v (stage %s, err %v), want success", result.Outcome, result.Stage, result.Err)
	}

	if got := f.bucket.keysWithPrefix("xray/xrays/dicom/"); len(got) != 1 {
		t.Fatalf("raw DICOM keys = %v, want exactly one", got)
	}
	if !strings.HasPrefix(f.converter.gotFileURL, "https://cdn.test/xray/xrays/dicom/") {
		t.Fatalf("converter received %q, want the raw object URL", f.converter.gotFileURL)
	}
	if f.model.gotURL != "https://cdn.test/converted/study.png" {
		t.Fatalf("inference received %q, want the converted rendition", f.model.gotURL)
	}
	if f.model.gotIsInverted == nil || !*f.model.gotIsInverted {
		t.Fatal("MONOCHROME1 conversion did not flag the image as inverted")
	}
	if result.Xray.URL != "https://cdn.test/converted/study.png" {
		t.Fatal("canonical URL should be the converted rendition")
	}
	if !strings.HasPrefix(result.Xray.OriginalURL, "https://cdn.test/xray/xrays/dicom/") {
		t.Fatal("original URL should be the raw DICOM object")
	}
	if result.Xray.IsNormal != true || len(result.Xray.Abnormalities) != 0 {
		t.Fatal("normal study should carry no abnormality rows")
	}
}

func TestPipeline_InferenceFailureKeepsStatusCode(t *testing.T) {
	f := newPipelineFixture(t, false)
	f.model.err = fmt.Errorf("inference service: %w", &httpx.StatusError{StatusCode: 503, Status: "503 Service Unavailable"})

	job := &Job{File: File{Name: "chest.png", Data: encodeTestPNG(t, 16, 16)}, DoctorID: uuid.New(), Total: 1}
	result := f.pipeline.Process(context.Background(), job)

	if result.Outcome != OutcomeFailed || result.Stage != StageInfer {
		t.Fatalf("outcome = %v stage = %q, want failure at infer", result.Outcome, result.Stage)
	}
	if code, ok := httpx.StatusCodeOf(result.Err); !ok || code != 503 {
		t.Fatalf("remote status lost: %v", result.Err)
	}
	if f.patients.count() != 0 || f.xrays.count() != 0 {
		t.Fatal("failed job persisted records")
	}
}

func TestPipeline_CleanupRemovesScratchFile(t *testing.T) {
	f := newPipelineFixture(t, false)
	f.model.response = &inference.Response{LungsFound: true, IsNormal: true}

	path := filepath.Join(t.TempDir(), "upload-1.png")
	if err := os.WriteFile(path, encodeTestPNG(t, 16, 16), 0o600); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}

	job := &Job{File: File{Name: "chest.png", TempPath: path}, DoctorID: uuid.New(), Total: 1}
	if result := f.pipeline.Process(context.Background(), job); result.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %v, want success", result.Outcome)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("scratch file survived cleanup")
	}
}

func TestPipeline_AnnotationFailureDoesNotFailJob(t *testing.T) {
	f := newPipelineFixture(t, true)
	resp := abnormalResponse()
	f.model.response = resp

	// DICOM branch forces an HTTP fetch of the canonical image for overlay
	// rendering; pointing the conversion at a dead URL makes that fetch
	// fail while the rest of the pipeline succeeds.
	f.converter.conversion = &convert.Conversion{
		PNGURL:                    "http://127.0.0.1:1/converted.png",
		PhotometricInterpretation: convert.PhotometricMonochrome2,
	}

	job := &Job{File: File{Name: "study.dcm", Data: []byte("DICM")}, DoctorID: uuid.New(), Total: 1}
	result := f.pipeline.Process(context.Background(), job)

	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %v (stage %s, err %v), want success despite overlay failure", result.Outcome, result.Stage, result.Err)
	}
	if result.Xray.ModelAnnotated != nil {
		t.Fatal("annotated URL set even though rendering could not run")
	}
}

// End-to-end: a mixed batch through queue, pool and pipeline against
// HTTP test doubles for the conversion and inference services.
func TestIngest_EndToEndBatch(t *testing.T) {
	log := testLogger(t)

	inferenceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := &inference.Response{LungsFound: true, IsNormal: true}
		if strings.Contains(req.Data.URL, "not-a-lung") {
			resp = &inference.Response{LungsFound: false}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer inferenceServer.Close()

	bucket := newFakeBucket()
	patients := newFakePatientRepo()
	xrays := newFakeXrayRepo()
	abns := &fakeAbnormalityRepo{}
	model := inference.NewClientWithBaseURL(log, inferenceServer.URL)
	pipeline := NewPipeline(log, nil, bucket, &fakeConverter{}, model, patients, xrays, abns, nil)

	hub := sse.NewHub(log)
	client := hub.Register()
	directory := NewDirectory(log, hub, pipeline, WithConcurrency(2))
	defer directory.Close()

	queue, _ := directory.Acquire(client.ID)
	names := []string{"patient-a.png", "patient-b.png", "not-a-lung.png"}
	for i, name := range names {
		job := &Job{
			File:     File{Name: name, Data: encodeTestPNG(t, 16, 16)},
			DoctorID: uuid.New(),
			ClientID: client.ID,
			Index:    i,
			Total:    len(names),
		}
		if err := queue.Enqueue(job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	events := collectEvents(t, client, 2*len(names))

	var succeeded, rejected, failedOrErrored int
	for _, ev := range events {
		if ev.Status == sse.StatusProcessing {
			continue
		}
		switch {
		case ev.Status == sse.StatusCompleted && ev.Xray != nil:
			succeeded++
		case ev.Status == sse.StatusCompleted && ev.Message != "":
			rejected++
		default:
			failedOrErrored++
		}
	}
	if succeeded != 2 || rejected != 1 || failedOrErrored != 0 {
		t.Fatalf("got %d succeeded, %d rejected, %d failed; want 2/1/0", succeeded, rejected, failedOrErrored)
	}
	if xrays.count() != 2 {
		t.Fatalf("persisted %d xrays, want 2", xrays.count())
	}
}
