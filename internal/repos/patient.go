package repos

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/types"
)

type PatientRepo interface {
	// FindOrCreate resolves the patient row for candidate.PatientID,
	// inserting when absent. Safe under concurrent callers for the same
	// PatientID; always returns the winning row.
	FindOrCreate(ctx context.Context, tx *gorm.DB, candidate *types.Patient) (*types.Patient, error)
	GetByPatientID(ctx context.Context, tx *gorm.DB, patientID string) (*types.Patient, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Patient, error)
}

type patientRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPatientRepo(db *gorm.DB, baseLog *logger.Logger) PatientRepo {
	return &patientRepo{db: db, log: baseLog.With("repo", "PatientRepo")}
}

func (pr *patientRepo) FindOrCreate(ctx context.Context, tx *gorm.DB, candidate *types.Patient) (*types.Patient, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if candidate == nil || candidate.PatientID == "" {
		return nil, fmt.Errorf("patient candidate with patient_id required")
	}

	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "patient_id"}},
			DoNothing: true,
		}).
		Create(candidate).Error; err != nil {
		return nil, err
	}

	// Re-select so the loser of a concurrent insert sees the winner's row.
	return pr.GetByPatientID(ctx, transaction, candidate.PatientID)
}

func (pr *patientRepo) GetByPatientID(ctx context.Context, tx *gorm.DB, patientID string) (*types.Patient, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var result types.Patient
	if err := transaction.WithContext(ctx).
		Where("patient_id = ?", patientID).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (pr *patientRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Patient, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var results []*types.Patient
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
