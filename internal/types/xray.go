package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Xray is one analyzed study. URL points at the canonical PNG, OriginalURL
// at the upload as received (identical for raster uploads, the raw DICOM
// object for vendor-format uploads). Derived artifact columns stay null when
// the model did not produce them.
type Xray struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	URL         string    `gorm:"column:url;not null" json:"url"`
	OriginalURL string    `gorm:"column:original_url;not null" json:"originalUrl"`
	Slug        string    `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	PatientID   uuid.UUID `gorm:"type:uuid;column:patient_id;not null;index" json:"patientId"`
	Patient     *Patient  `gorm:"foreignKey:PatientID;references:ID" json:"patient,omitempty"`

	XrayDate *time.Time `gorm:"column:xray_date" json:"xray_date,omitempty"`
	Note     string     `gorm:"column:note" json:"note,omitempty"`
	View     string     `gorm:"column:view;default:''" json:"view"`

	LungsFound bool     `gorm:"column:lungs_found;not null;default:false" json:"lungsFound"`
	IsNormal   bool     `gorm:"column:is_normal;not null;default:false" json:"isNormal"`
	TBScore    *float64 `gorm:"column:tb_score" json:"tbScore,omitempty"`

	CTRRatio    *float64 `gorm:"column:ctr_ratio" json:"ctrRatio,omitempty"`
	CTRImageURL *string  `gorm:"column:ctr_image_url" json:"ctrImageUrl,omitempty"`

	ZoomX      *float64 `gorm:"column:zoom_x" json:"zoomX,omitempty"`
	ZoomY      *float64 `gorm:"column:zoom_y" json:"zoomY,omitempty"`
	ZoomWidth  *float64 `gorm:"column:zoom_width" json:"zoomWidth,omitempty"`
	ZoomHeight *float64 `gorm:"column:zoom_height" json:"zoomHeight,omitempty"`

	Heatmap         *string `gorm:"column:heatmap" json:"heatmap,omitempty"`
	CLAHE           *string `gorm:"column:clahe" json:"clahe,omitempty"`
	BoneSuppression *string `gorm:"column:bone_suppression" json:"boneSuppression,omitempty"`
	ModelAnnotated  *string `gorm:"column:model_annotated" json:"modelAnnotated,omitempty"`

	// Doctor's canvas annotation state, opaque to the backend.
	Annotations datatypes.JSON `gorm:"column:annotations;type:jsonb" json:"annotations,omitempty"`

	Abnormalities []XrayAbnormality `gorm:"foreignKey:XrayID;references:ID" json:"abnormalities,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Xray) TableName() string { return "xray" }
