package ingest

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
)

// FileKind is resolved exactly once, at dispatch; later stages branch on it
// rather than re-inspecting the file name.
type FileKind int

const (
	KindUnsupported FileKind = iota
	KindRaster
	KindDICOM
)

func (k FileKind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindDICOM:
		return "dicom"
	default:
		return "unsupported"
	}
}

// ClassifyFileName maps a declared file name to its pipeline branch.
func ClassifyFileName(name string) FileKind {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return KindRaster
	case ".dic", ".dcm", ".dicom":
		return KindDICOM
	default:
		return KindUnsupported
	}
}

// File is one uploaded image. Data may be populated directly, or left nil
// with TempPath pointing at the scratch copy the upload handler spilled;
// Bytes resolves either way. The scratch copy is removed by the pipeline's
// cleanup stage.
type File struct {
	Name     string
	Data     []byte
	TempPath string
}

func (f *File) Bytes() ([]byte, error) {
	if f.Data != nil {
		return f.Data, nil
	}
	if f.TempPath == "" {
		return nil, fmt.Errorf("file %q has no data and no temp path", f.Name)
	}
	raw, err := os.ReadFile(f.TempPath)
	if err != nil {
		return nil, fmt.Errorf("read uploaded file: %w", err)
	}
	return raw, nil
}

// Job is one file's journey through the pipeline. Immutable once enqueued;
// consumed exactly once by a worker.
type Job struct {
	File     File
	DoctorID uuid.UUID
	ClientID string
	Index    int
	Total    int
}
