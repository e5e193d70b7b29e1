package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/types"
)

type XrayAbnormalityRepo interface {
	CreateBulk(ctx context.Context, tx *gorm.DB, abnormalities []*types.XrayAbnormality) ([]*types.XrayAbnormality, error)
	GetByXrayIDs(ctx context.Context, tx *gorm.DB, xrayIDs []uuid.UUID) ([]*types.XrayAbnormality, error)
}

type xrayAbnormalityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewXrayAbnormalityRepo(db *gorm.DB, baseLog *logger.Logger) XrayAbnormalityRepo {
	return &xrayAbnormalityRepo{db: db, log: baseLog.With("repo", "XrayAbnormalityRepo")}
}

func (ar *xrayAbnormalityRepo) CreateBulk(ctx context.Context, tx *gorm.DB, abnormalities []*types.XrayAbnormality) ([]*types.XrayAbnormality, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if len(abnormalities) == 0 {
		return []*types.XrayAbnormality{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&abnormalities).Error; err != nil {
		return nil, err
	}
	return abnormalities, nil
}

func (ar *xrayAbnormalityRepo) GetByXrayIDs(ctx context.Context, tx *gorm.DB, xrayIDs []uuid.UUID) ([]*types.XrayAbnormality, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	var results []*types.XrayAbnormality
	if len(xrayIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("xray_id IN ?", xrayIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
