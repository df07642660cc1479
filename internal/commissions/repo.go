package commissions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
)

// Repository persists commission obligations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, commission *models.Commission) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Commission, error)

	// GetForRemittance re-fetches a commission inside the settlement
	// transaction, scoped to the owning vendor.
	GetForRemittance(ctx context.Context, id, vendorID uuid.UUID) (*models.Commission, error)

	ExistsRemittanceKey(ctx context.Context, key string) (bool, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, status *enums.CommissionStatus, limit int) ([]models.Commission, error)
	Save(ctx context.Context, commission *models.Commission) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, commission *models.Commission) error {
	return r.db.WithContext(ctx).Create(commission).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	if err := r.db.WithContext(ctx).First(&commission, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) GetForRemittance(ctx context.Context, id, vendorID uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).
		Where("id = ? AND vendor_id = ?", id, vendorID).
		First(&commission).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) ExistsRemittanceKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("remittance_idempotency_key = ?", key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) ListByVendor(ctx context.Context, vendorID uuid.UUID, status *enums.CommissionStatus, limit int) ([]models.Commission, error) {
	query := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var commissions []models.Commission
	if err := query.Order("created_at DESC").Find(&commissions).Error; err != nil {
		return nil, err
	}
	return commissions, nil
}

func (r *repository) Save(ctx context.Context, commission *models.Commission) error {
	return r.db.WithContext(ctx).Save(commission).Error
}
