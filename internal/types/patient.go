package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Patient is keyed by the natural PatientID assigned at upload time
// (e.g. "RV<shortid>" for anonymous studies). At most one row exists per
// PatientID; concurrent uploads resolve to the same row.
type Patient struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID string    `gorm:"column:patient_id;not null;uniqueIndex" json:"patientId"`
	Slug      string    `gorm:"column:slug;not null" json:"slug"`
	Age       int       `gorm:"column:age;not null;default:0" json:"age"`
	Sex       string    `gorm:"column:sex;not null;default:'Unknown'" json:"sex"`
	Location  string    `gorm:"column:location;not null;default:'Unknown'" json:"location"`
	DoctorID  uuid.UUID `gorm:"type:uuid;column:doctor_id;not null;index" json:"doctorId"`
	Xrays     []Xray    `gorm:"foreignKey:PatientID;references:ID" json:"xrays,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Patient) TableName() string { return "patient" }
