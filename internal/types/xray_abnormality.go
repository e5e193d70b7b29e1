package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// XrayAbnormality is one model finding on one study. AnnotationCoordinates
// holds the bounding box as [x1, y1, x2, y2]; Segmentation holds the
// polygon(s) as flat [x, y, x, y, ...] rings.
type XrayAbnormality struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	XrayID uuid.UUID `gorm:"type:uuid;column:xray_id;not null;index" json:"xray_id"`
	Xray   *Xray     `gorm:"foreignKey:XrayID;references:ID" json:"xray,omitempty"`

	Name  string  `gorm:"column:name;not null" json:"name"`
	Score float64 `gorm:"column:score;not null" json:"score"`

	AnnotationCoordinates datatypes.JSON `gorm:"column:annotation_coordinates;type:jsonb" json:"annotation_coordinates"`
	Segmentation          datatypes.JSON `gorm:"column:segmentation;type:jsonb" json:"segmentation,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (XrayAbnormality) TableName() string { return "xray_abnormality" }
