package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/merkadoph/merkado-backend/pkg/db/types"
	"github.com/merkadoph/merkado-backend/pkg/enums"
)

// Payment is one money movement attempt. Pay-first checkouts carry the cart
// snapshot in CheckoutData and only reference orders after materialization.
type Payment struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ActorID   uuid.UUID             `gorm:"column:actor_id;type:uuid;not null;index;uniqueIndex:payments_actor_idem_idx,where:idempotency_key IS NOT NULL"`
	ActorType enums.ActorType       `gorm:"column:actor_type;not null;default:'user'"`
	Type      enums.PaymentType     `gorm:"column:type;not null;uniqueIndex:payments_order_type_idx,where:order_id IS NOT NULL"`
	Provider  enums.PaymentProvider `gorm:"column:provider;not null;default:'paymongo'"`

	// GatewayIntentID is null until the gateway intent exists; unique when set.
	GatewayIntentID *string    `gorm:"column:gateway_intent_id;uniqueIndex:payments_gateway_intent_idx,where:gateway_intent_id IS NOT NULL"`
	OrderID         *uuid.UUID `gorm:"column:order_id;type:uuid;uniqueIndex:payments_order_type_idx,where:order_id IS NOT NULL"`

	AmountCents    int64  `gorm:"column:amount_cents;not null"`
	FeeCents       int64  `gorm:"column:fee_cents;not null;default:0"`
	NetAmountCents int64  `gorm:"column:net_amount_cents;not null"`
	Currency       string `gorm:"column:currency;not null;default:'PHP'"`

	Status  enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	IsFinal bool                `gorm:"column:is_final;not null;default:false"`

	// IdempotencyKey dedupes caller retries; unique per actor when present.
	IdempotencyKey *string `gorm:"column:idempotency_key;uniqueIndex:payments_actor_idem_idx,where:idempotency_key IS NOT NULL"`

	CheckoutData json.RawMessage `gorm:"column:checkout_data;type:jsonb"`
	QRImageURL   *string         `gorm:"column:qr_image_url"`
	Description  *string         `gorm:"column:description"`
	Metadata     json.RawMessage `gorm:"column:metadata;type:jsonb"`

	OrdersCreated      bool              `gorm:"column:orders_created;not null;default:false"`
	OrderIDs           dbtypes.UUIDArray `gorm:"column:order_ids;type:text"`
	OrderCreationError *string           `gorm:"column:order_creation_error"`
	OrderClaimedAt     *time.Time        `gorm:"column:order_claimed_at"`

	WalletCredited   bool       `gorm:"column:wallet_credited;not null;default:false"`
	WalletCreditedAt *time.Time `gorm:"column:wallet_credited_at"`

	// Withdrawal payout details, set only for type=withdraw.
	PayoutMethod  *enums.PayoutMethod `gorm:"column:payout_method"`
	PayoutAccount *string             `gorm:"column:payout_account"`
	PayoutName    *string             `gorm:"column:payout_name"`

	PaidAt        *time.Time `gorm:"column:paid_at"`
	FailureReason *string    `gorm:"column:failure_reason"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// RecomputeNet keeps net_amount_cents consistent whenever amount or fee change.
func (p *Payment) RecomputeNet() {
	p.NetAmountCents = p.AmountCents - p.FeeCents
}

// CheckoutItem is one line of the cart snapshot captured at payment creation.
type CheckoutItem struct {
	ProductID      uuid.UUID `json:"product_id"`
	VendorID       uuid.UUID `json:"vendor_id"`
	Name           string    `json:"name"`
	Qty            int       `json:"qty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

// CheckoutSnapshot is the cached cart contents a pay-first payment carries
// until orders materialize.
type CheckoutSnapshot struct {
	BuyerID         uuid.UUID      `json:"buyer_id"`
	Items           []CheckoutItem `json:"items"`
	ShippingAddress string         `json:"shipping_address"`
}

// Snapshot decodes CheckoutData; returns nil when no snapshot is attached.
func (p *Payment) Snapshot() (*CheckoutSnapshot, error) {
	if len(p.CheckoutData) == 0 {
		return nil, nil
	}
	var snap CheckoutSnapshot
	if err := json.Unmarshal(p.CheckoutData, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
