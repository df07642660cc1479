package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merkadoph/merkado-backend/pkg/enums"
)

// Commission is one COD commission obligation per (order, vendor) pair.
type Commission struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID  uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex:commissions_order_vendor_idx"`
	VendorID uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:commissions_order_vendor_idx;index"`

	OrderAmount      decimal.Decimal `gorm:"column:order_amount;type:numeric(14,2);not null"`
	CommissionRate   decimal.Decimal `gorm:"column:commission_rate;type:numeric(6,4);not null"`
	CommissionAmount decimal.Decimal `gorm:"column:commission_amount;type:numeric(14,2);not null"`

	Status  enums.CommissionStatus `gorm:"column:status;not null;default:'pending'"`
	DueDate *time.Time             `gorm:"column:due_date"`

	// RemittanceIdempotencyKey is written once at remittance and blocks a
	// second debit even without a caller-supplied header.
	RemittanceIdempotencyKey *string    `gorm:"column:remittance_idempotency_key;uniqueIndex:commissions_remit_key_idx,where:remittance_idempotency_key IS NOT NULL"`
	RemittedAt               *time.Time `gorm:"column:remitted_at"`
	RemittanceMethod         *string    `gorm:"column:remittance_method"`

	RemittanceHistory json.RawMessage `gorm:"column:remittance_history;type:jsonb"`
	StatusHistory     json.RawMessage `gorm:"column:status_history;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// StatusChange is one audit entry in a commission's status history.
type StatusChange struct {
	From   enums.CommissionStatus `json:"from"`
	To     enums.CommissionStatus `json:"to"`
	Actor  string                 `json:"actor"`
	Reason string                 `json:"reason,omitempty"`
	At     time.Time              `json:"at"`
}

// RemittanceRecord is one entry in a commission's remittance history.
type RemittanceRecord struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	At            time.Time       `json:"at"`
}

// AppendStatusChange adds an audit entry; history is append-only.
func (c *Commission) AppendStatusChange(change StatusChange) error {
	var history []StatusChange
	if len(c.StatusHistory) > 0 {
		if err := json.Unmarshal(c.StatusHistory, &history); err != nil {
			return err
		}
	}
	history = append(history, change)
	encoded, err := json.Marshal(history)
	if err != nil {
		return err
	}
	c.StatusHistory = encoded
	return nil
}

// AppendRemittance adds a remittance entry; history is append-only.
func (c *Commission) AppendRemittance(record RemittanceRecord) error {
	var history []RemittanceRecord
	if len(c.RemittanceHistory) > 0 {
		if err := json.Unmarshal(c.RemittanceHistory, &history); err != nil {
			return err
		}
	}
	history = append(history, record)
	encoded, err := json.Marshal(history)
	if err != nil {
		return err
	}
	c.RemittanceHistory = encoded
	return nil
}
