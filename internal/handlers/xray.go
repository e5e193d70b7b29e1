package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/radvis/radvis-backend/internal/cache"
	"github.com/radvis/radvis-backend/internal/ingest"
	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/middleware"
	"github.com/radvis/radvis-backend/internal/sse"
)

// spillThreshold is the size above which an uploaded part goes to the
// scratch directory instead of staying in memory until its job runs.
const spillThreshold = 4 << 20

type XrayHandler struct {
	log         *logger.Logger
	directory   *ingest.Directory
	hub         *sse.Hub
	invalidator cache.Invalidator
	scratchDir  string
}

func NewXrayHandler(log *logger.Logger, directory *ingest.Directory, hub *sse.Hub, invalidator cache.Invalidator, scratchDir string) *XrayHandler {
	return &XrayHandler{
		log:         log.With("Handler", "XrayHandler"),
		directory:   directory,
		hub:         hub,
		invalidator: invalidator,
		scratchDir:  scratchDir,
	}
}

// UploadMultiple accepts a multipart batch of x-ray files, enqueues one job
// per file on the caller's session queue, and returns as soon as everything
// is enqueued. Processing outcomes arrive on the caller's event stream.
func (xh *XrayHandler) UploadMultiple(c *gin.Context) {
	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = c.PostForm("clientId")
	}
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId is required"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}

	doctorID := middleware.DoctorID(c)
	if doctorID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing doctor identity"})
		return
	}

	if !xh.hub.Connected(clientID) {
		xh.log.Warn("Upload for a session with no open event stream", "clientID", clientID)
	}

	jobs := make([]*ingest.Job, 0, len(parts))
	for i, part := range parts {
		file, err := xh.readPart(part.Filename, part.Size, func() (io.ReadCloser, error) { return part.Open() })
		if err != nil {
			xh.log.Error("Failed to read uploaded file", "fileName", part.Filename, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("failed to read file %s", part.Filename)})
			return
		}
		jobs = append(jobs, &ingest.Job{
			File:     file,
			DoctorID: doctorID,
			ClientID: clientID,
			Index:    i,
			Total:    len(parts),
		})
	}

	queue, _ := xh.directory.Acquire(clientID)
	for _, job := range jobs {
		if err := queue.Enqueue(job); err != nil {
			xh.log.Error("Failed to enqueue job", "clientID", clientID, "fileName", job.File.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
	}

	// Dashboard aggregates for this owner are stale the moment the batch is
	// accepted, so they are dropped here rather than after each job lands.
	if err := xh.invalidator.Invalidate(c.Request.Context(), doctorID); err != nil {
		xh.log.Warn("Cache invalidation failed", "doctorID", doctorID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "All DICOM files enqueued for processing for client " + clientID,
		"enqueuedJobs": len(parts),
	})
}

// readPart materializes one multipart file either in memory or, past the
// spill threshold, as a temp file under the scratch directory. The pipeline
// removes the temp file when the job finishes.
func (xh *XrayHandler) readPart(name string, size int64, open func() (io.ReadCloser, error)) (ingest.File, error) {
	src, err := open()
	if err != nil {
		return ingest.File{}, err
	}
	defer src.Close()

	if size >= 0 && size < spillThreshold {
		data, err := io.ReadAll(src)
		if err != nil {
			return ingest.File{}, err
		}
		return ingest.File{Name: name, Data: data}, nil
	}

	tmp, err := os.CreateTemp(xh.scratchDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		return ingest.File{}, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return ingest.File{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return ingest.File{}, err
	}
	return ingest.File{Name: name, TempPath: tmp.Name()}, nil
}
