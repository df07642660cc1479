package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/pkg/db/models"
	dbtypes "github.com/merkadoph/merkado-backend/pkg/db/types"
)

// claimMarker is written into order_creation_error while a materialization
// run holds the claim.
const claimMarker = "in_progress"

// Repository manages order rows plus the materialization claim fields on the
// owning payment row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.Order, error)

	GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)

	// ClaimPayment atomically takes the materialization claim. It only
	// succeeds while orders are uncreated and no live claim exists.
	ClaimPayment(ctx context.Context, paymentID uuid.UUID, staleBefore time.Time) (bool, error)
	FinalizeOrders(ctx context.Context, paymentID uuid.UUID, orderIDs []uuid.UUID, failureNote *string) error
	ReleaseClaim(ctx context.Context, paymentID uuid.UUID, failureNote string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.Order, error) {
	var list []models.Order
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("id = ?", paymentID).
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ClaimPayment(ctx context.Context, paymentID uuid.UUID, staleBefore time.Time) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND orders_created = ?", paymentID, false).
		Where("order_claimed_at IS NULL OR order_claimed_at < ?", staleBefore).
		Updates(map[string]any{
			"order_creation_error": claimMarker,
			"order_claimed_at":     now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FinalizeOrders(ctx context.Context, paymentID uuid.UUID, orderIDs []uuid.UUID, failureNote *string) error {
	updates := map[string]any{
		"orders_created":       true,
		"order_ids":            dbtypes.UUIDArray(orderIDs),
		"order_claimed_at":     nil,
		"order_creation_error": failureNote,
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(updates).Error
}

func (r *repository) ReleaseClaim(ctx context.Context, paymentID uuid.UUID, failureNote string) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(map[string]any{
			"order_claimed_at":     nil,
			"order_creation_error": failureNote,
		}).Error
}
