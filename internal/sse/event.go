package sse

import "github.com/radvis/radvis-backend/internal/types"

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Event is one frame on a client's progress stream. A file's lifecycle is
// at most one processing frame followed by exactly one completed or error
// frame. Soft rejections ride on a completed frame with Message set and no
// patient/xray payload.
type Event struct {
	Status    Status          `json:"status"`
	FileName  string          `json:"fileName"`
	Progress  *float64        `json:"progress,omitempty"`
	Patient   *types.Patient  `json:"patient,omitempty"`
	Xray      *types.Xray     `json:"xray,omitempty"`
	Message   string          `json:"message,omitempty"`
	ErrorCode *int            `json:"errorCode,omitempty"`
}
