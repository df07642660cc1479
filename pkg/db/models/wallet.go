package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merkadoph/merkado-backend/pkg/enums"
)

// Wallet holds the cached balance for one actor. The balance is only ever
// mutated through conditional atomic updates; the wallet_transactions log is
// the source of truth.
type Wallet struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ActorID   uuid.UUID       `gorm:"column:actor_id;type:uuid;not null;uniqueIndex:wallets_actor_idx"`
	ActorType enums.ActorType `gorm:"column:actor_type;not null;uniqueIndex:wallets_actor_idx"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(14,2);not null;default:0"`
	Currency  string          `gorm:"column:currency;not null;default:'PHP'"`
	Locked    bool            `gorm:"column:locked;not null;default:false"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
