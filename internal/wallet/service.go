package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/metrics"
	"github.com/merkadoph/merkado-backend/pkg/pagination"
)

// reconcileEpsilon absorbs numeric representation noise when comparing the
// cached balance against the transaction log.
var reconcileEpsilon = decimal.NewFromFloat(0.01)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines wallet balance operations. Credit and Debit run their own
// transaction; the Tx variants compose into a caller-owned transaction so a
// balance movement commits or rolls back with the caller's rows.
type Service interface {
	GetOrCreate(ctx context.Context, actorID uuid.UUID, actorType enums.ActorType) (*models.Wallet, error)
	Credit(ctx context.Context, params MovementParams) (*models.WalletTransaction, error)
	Debit(ctx context.Context, params MovementParams) (*models.WalletTransaction, error)
	CreditTx(ctx context.Context, tx *gorm.DB, params MovementParams) (*models.WalletTransaction, error)
	DebitTx(ctx context.Context, tx *gorm.DB, params MovementParams) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, params ListParams) (*ListResult, error)
	Reconcile(ctx context.Context, walletID uuid.UUID) (*ReconcileResult, error)
}

// MovementParams describes one credit or debit against an actor's wallet.
type MovementParams struct {
	ActorID       uuid.UUID
	ActorType     enums.ActorType
	Amount        decimal.Decimal
	Reference     string
	ReferenceType enums.ReferenceType
	ReferenceID   uuid.UUID
}

// ListParams configures pagination for a wallet's transaction log.
type ListParams struct {
	ActorID   uuid.UUID
	ActorType enums.ActorType
	Limit     int
	Cursor    string
}

// ListResult wraps returned transactions and the cursor for the next page.
type ListResult struct {
	Wallet *models.Wallet             `json:"wallet"`
	Items  []models.WalletTransaction `json:"items"`
	Cursor string                     `json:"cursor"`
}

// ReconcileResult compares the cached balance to the transaction log.
type ReconcileResult struct {
	WalletID   uuid.UUID       `json:"wallet_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Difference decimal.Decimal `json:"difference"`
	Consistent bool            `json:"consistent"`
}

const insufficientBalanceMessage = "wallet balance is insufficient"

// IsInsufficientBalance reports whether err is a debit rejected for lack of
// funds, as opposed to other state conflicts such as a locked wallet.
func IsInsufficientBalance(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeStateConflict && typed.Message() == insufficientBalanceMessage
}

type service struct {
	repo    Repository
	db      txRunner
	logger  *logger.Logger
	metrics *metrics.SettlementMetrics
}

// NewService wires wallet dependencies.
func NewService(repo Repository, db txRunner, logg *logger.Logger, m *metrics.SettlementMetrics) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "wallet repository required")
	}
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "wallet tx runner required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "wallet logger required")
	}
	return &service{repo: repo, db: db, logger: logg, metrics: m}, nil
}

func (s *service) GetOrCreate(ctx context.Context, actorID uuid.UUID, actorType enums.ActorType) (*models.Wallet, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if !actorType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid actor type %q", actorType))
	}

	existing, err := s.repo.GetByActor(ctx, actorID, actorType)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}

	wallet := &models.Wallet{
		ID:        uuid.New(),
		ActorID:   actorID,
		ActorType: actorType,
		Balance:   decimal.Zero,
		Currency:  "PHP",
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		// A concurrent request may have created it first.
		if existing, getErr := s.repo.GetByActor(ctx, actorID, actorType); getErr == nil {
			return existing, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet")
	}

	s.logger.Info(s.logger.WithActorID(ctx, actorID.String()), "wallet created")
	return wallet, nil
}

func (s *service) Credit(ctx context.Context, params MovementParams) (*models.WalletTransaction, error) {
	var txn *models.WalletTransaction
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.CreditTx(ctx, tx, params)
		if err != nil {
			return err
		}
		txn = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) Debit(ctx context.Context, params MovementParams) (*models.WalletTransaction, error) {
	var txn *models.WalletTransaction
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.DebitTx(ctx, tx, params)
		if err != nil {
			return err
		}
		txn = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) CreditTx(ctx context.Context, tx *gorm.DB, params MovementParams) (*models.WalletTransaction, error) {
	return s.move(ctx, tx, enums.TransactionDirectionCredit, params)
}

func (s *service) DebitTx(ctx context.Context, tx *gorm.DB, params MovementParams) (*models.WalletTransaction, error) {
	return s.move(ctx, tx, enums.TransactionDirectionDebit, params)
}

func (s *service) move(ctx context.Context, tx *gorm.DB, direction enums.TransactionDirection, params MovementParams) (*models.WalletTransaction, error) {
	if err := validateMovement(params); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	wallet, err := s.getOrCreateTx(ctx, repo, params.ActorID, params.ActorType)
	if err != nil {
		return nil, err
	}
	if wallet.Locked {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "wallet is locked")
	}

	before := wallet.Balance

	var applied bool
	if direction == enums.TransactionDirectionCredit {
		applied, err = repo.CreditBalance(ctx, wallet.ID, params.Amount)
	} else {
		applied, err = repo.DebitBalance(ctx, wallet.ID, params.Amount)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update wallet balance")
	}
	if !applied {
		if direction == enums.TransactionDirectionDebit {
			s.metrics.IncWalletRejection()
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, insufficientBalanceMessage).WithDetails(map[string]any{
				"balance":   before.StringFixed(2),
				"requested": params.Amount.StringFixed(2),
			})
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "wallet is locked")
	}

	// Re-read inside the tx so before/after reflect the applied update even
	// under concurrent writers.
	updated, err := repo.GetByID(ctx, wallet.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload wallet")
	}
	if direction == enums.TransactionDirectionCredit {
		before = updated.Balance.Sub(params.Amount)
	} else {
		before = updated.Balance.Add(params.Amount)
	}

	txn := &models.WalletTransaction{
		ID:            uuid.New(),
		WalletID:      wallet.ID,
		Direction:     direction,
		Amount:        params.Amount,
		BalanceBefore: before,
		BalanceAfter:  updated.Balance,
		Reference:     params.Reference,
		ReferenceType: params.ReferenceType,
		ReferenceID:   params.ReferenceID,
		Status:        enums.TransactionStatusCompleted,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record wallet transaction")
	}

	s.metrics.IncWalletMovement(direction.String(), params.ReferenceType.String())
	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"wallet_id":      wallet.ID.String(),
		"direction":      direction.String(),
		"amount":         params.Amount.StringFixed(2),
		"reference_type": params.ReferenceType.String(),
	}), "wallet movement recorded")
	return txn, nil
}

func (s *service) getOrCreateTx(ctx context.Context, repo Repository, actorID uuid.UUID, actorType enums.ActorType) (*models.Wallet, error) {
	wallet, err := repo.GetByActor(ctx, actorID, actorType)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}

	wallet = &models.Wallet{
		ID:        uuid.New(),
		ActorID:   actorID,
		ActorType: actorType,
		Balance:   decimal.Zero,
		Currency:  "PHP",
	}
	if err := repo.Create(ctx, wallet); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet")
	}
	return wallet, nil
}

func (s *service) ListTransactions(ctx context.Context, params ListParams) (*ListResult, error) {
	wallet, err := s.GetOrCreate(ctx, params.ActorID, params.ActorType)
	if err != nil {
		return nil, err
	}

	query := ListTransactionsParams{
		WalletID: wallet.ID,
		Limit:    pagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	txns, err := s.repo.ListTransactions(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list wallet transactions")
	}

	result := &ListResult{Wallet: wallet, Items: txns}
	limit := pagination.NormalizeLimit(params.Limit)
	if len(txns) > limit {
		result.Items = txns[:limit]
		last := result.Items[limit-1]
		result.Cursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return result, nil
}

func (s *service) Reconcile(ctx context.Context, walletID uuid.UUID) (*ReconcileResult, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}

	wallet, err := s.repo.GetByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}

	sums, err := s.repo.SumTransactions(ctx, walletID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum wallet transactions")
	}

	ledgerSum := sums.Credits.Sub(sums.Debits)
	difference := wallet.Balance.Sub(ledgerSum)
	result := &ReconcileResult{
		WalletID:   walletID,
		Balance:    wallet.Balance,
		LedgerSum:  ledgerSum,
		Difference: difference,
		Consistent: difference.Abs().LessThanOrEqual(reconcileEpsilon),
	}
	if !result.Consistent {
		s.logger.Warn(s.logger.WithFields(ctx, map[string]any{
			"wallet_id":  walletID.String(),
			"balance":    wallet.Balance.StringFixed(2),
			"ledger_sum": ledgerSum.StringFixed(2),
		}), "wallet balance diverges from transaction log")
	}
	return result, nil
}

func validateMovement(params MovementParams) error {
	if params.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if !params.ActorType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid actor type %q", params.ActorType))
	}
	if !params.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if params.Reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if !params.ReferenceType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid reference type %q", params.ReferenceType))
	}
	if params.ReferenceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	return nil
}
