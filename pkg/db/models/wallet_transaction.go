package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merkadoph/merkado-backend/pkg/enums"
)

// WalletTransaction is one append-only ledger entry. Rows are never updated
// after creation; the wallet balance is reconstructable from this log alone.
type WalletTransaction struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID      uuid.UUID                  `gorm:"column:wallet_id;type:uuid;not null;index"`
	Direction     enums.TransactionDirection `gorm:"column:direction;not null"`
	Amount        decimal.Decimal            `gorm:"column:amount;type:numeric(14,2);not null"`
	BalanceBefore decimal.Decimal            `gorm:"column:balance_before;type:numeric(14,2);not null"`
	BalanceAfter  decimal.Decimal            `gorm:"column:balance_after;type:numeric(14,2);not null"`

	// Reference ties the entry to exactly one causing entity.
	Reference     string              `gorm:"column:reference;not null"`
	ReferenceType enums.ReferenceType `gorm:"column:reference_type;not null"`
	ReferenceID   uuid.UUID           `gorm:"column:reference_id;type:uuid;not null;index"`

	Status    enums.TransactionStatus `gorm:"column:status;not null;default:'completed'"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
}
