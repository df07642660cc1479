package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	"github.com/merkadoph/merkado-backend/pkg/pagination"
)

// Repository manages persistence for wallets and their transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetByActor(ctx context.Context, actorID uuid.UUID, actorType enums.ActorType) (*models.Wallet, error)

	// CreditBalance and DebitBalance apply conditional atomic updates and
	// report whether a row changed. A debit only lands when the balance
	// covers the amount and the wallet is not locked.
	CreditBalance(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error)
	DebitBalance(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error)

	CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.WalletTransaction, error)
	SumTransactions(ctx context.Context, walletID uuid.UUID) (TransactionSums, error)
}

// ListTransactionsParams filters the transaction log for one wallet.
type ListTransactionsParams struct {
	WalletID uuid.UUID
	Limit    int
	Cursor   *pagination.Cursor
}

// TransactionSums aggregates the completed entries of one wallet.
type TransactionSums struct {
	Credits decimal.Decimal
	Debits  decimal.Decimal
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) GetByActor(ctx context.Context, actorID uuid.UUID, actorType enums.ActorType) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Where("actor_id = ? AND actor_type = ?", actorID, actorType).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) CreditBalance(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ? AND locked = ?", walletID, false).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) DebitBalance(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ? AND locked = ? AND balance >= ?", walletID, false, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.WalletTransaction, error) {
	query := r.db.WithContext(ctx).
		Where("wallet_id = ?", params.WalletID).
		Order("created_at DESC, id DESC")
	if params.Cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID,
		)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var txns []models.WalletTransaction
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) SumTransactions(ctx context.Context, walletID uuid.UUID) (TransactionSums, error) {
	var rows []struct {
		Direction string
		Total     decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("direction, COALESCE(SUM(amount), 0) AS total").
		Where("wallet_id = ? AND status = ?", walletID, enums.TransactionStatusCompleted).
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return TransactionSums{}, err
	}

	sums := TransactionSums{Credits: decimal.Zero, Debits: decimal.Zero}
	for _, row := range rows {
		switch enums.TransactionDirection(row.Direction) {
		case enums.TransactionDirectionCredit:
			sums.Credits = row.Total
		case enums.TransactionDirectionDebit:
			sums.Debits = row.Total
		}
	}
	return sums, nil
}
