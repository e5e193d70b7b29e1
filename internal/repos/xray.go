package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/types"
)

type XrayRepo interface {
	Create(ctx context.Context, tx *gorm.DB, xray *types.Xray) (*types.Xray, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Xray, error)
	GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Xray, error)
	GetByPatientIDs(ctx context.Context, tx *gorm.DB, patientIDs []uuid.UUID) ([]*types.Xray, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]interface{}) error
}

type xrayRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewXrayRepo(db *gorm.DB, baseLog *logger.Logger) XrayRepo {
	return &xrayRepo{db: db, log: baseLog.With("repo", "XrayRepo")}
}

func (xr *xrayRepo) Create(ctx context.Context, tx *gorm.DB, xray *types.Xray) (*types.Xray, error) {
	transaction := tx
	if transaction == nil {
		transaction = xr.db
	}
	if err := transaction.WithContext(ctx).Create(xray).Error; err != nil {
		return nil, err
	}
	return xray, nil
}

func (xr *xrayRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Xray, error) {
	transaction := tx
	if transaction == nil {
		transaction = xr.db
	}
	var result types.Xray
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (xr *xrayRepo) GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Xray, error) {
	transaction := tx
	if transaction == nil {
		transaction = xr.db
	}
	var result types.Xray
	if err := transaction.WithContext(ctx).
		Where("slug = ?", slug).
		Preload("Abnormalities").
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (xr *xrayRepo) GetByPatientIDs(ctx context.Context, tx *gorm.DB, patientIDs []uuid.UUID) ([]*types.Xray, error) {
	transaction := tx
	if transaction == nil {
		transaction = xr.db
	}
	var results []*types.Xray
	if len(patientIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("patient_id IN ?", patientIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (xr *xrayRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = xr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Xray{}).
		Where("id = ?", id).
		Updates(fields).Error
}
