package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/merkadoph/merkado-backend/pkg/enums"
)

// Order is one per-vendor order materialized from a succeeded pay-first
// payment. Items carries the line-item snapshot for that vendor group.
type Order struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID      uuid.UUID          `gorm:"column:payment_id;type:uuid;not null;index"`
	BuyerID        uuid.UUID          `gorm:"column:buyer_id;type:uuid;not null;index"`
	VendorID       uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null;index"`
	SubtotalCents  int64              `gorm:"column:subtotal_cents;not null"`
	Status         enums.OrderStatus  `gorm:"column:status;not null;default:'paid'"`
	EscrowStatus   enums.EscrowStatus `gorm:"column:escrow_status;not null;default:'held'"`
	TrackingNumber string             `gorm:"column:tracking_number;not null;uniqueIndex"`
	Items          json.RawMessage    `gorm:"column:items;type:jsonb"`
	ShippingAddr   string             `gorm:"column:shipping_address"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
