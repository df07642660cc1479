package commissions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/internal/wallet"
	"github.com/merkadoph/merkado-backend/pkg/breaker"
	"github.com/merkadoph/merkado-backend/pkg/db"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/metrics"
	"github.com/merkadoph/merkado-backend/pkg/redis"
)

const remittanceMethodWallet = "wallet"

// Service settles COD commission obligations against vendor wallets.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*models.Commission, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, status *enums.CommissionStatus, limit int) ([]models.Commission, error)
	RemitViaWallet(ctx context.Context, commissionID, vendorID uuid.UUID) (*models.Commission, error)
	BulkRemit(ctx context.Context, vendorID uuid.UUID, commissionIDs []uuid.UUID) (*BulkRemitResult, error)
	Waive(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Commission, error)
	Dispute(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Commission, error)
}

// CreateParams records a new commission obligation for one (order, vendor) pair.
type CreateParams struct {
	OrderID     uuid.UUID
	VendorID    uuid.UUID
	OrderAmount decimal.Decimal
	Rate        decimal.Decimal
	DueDate     *time.Time
}

// RemitOutcome is one item's result within a bulk remittance run.
type RemitOutcome struct {
	CommissionID uuid.UUID `json:"commission_id"`
	Remitted     bool      `json:"remitted"`
	Error        string    `json:"error,omitempty"`
}

// BulkRemitResult aggregates a sequential remittance batch.
type BulkRemitResult struct {
	Outcomes  []RemitOutcome `json:"outcomes"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo    Repository
	db      txRunner
	wallets wallet.Service
	brk     *breaker.Breaker
	cache   redis.CacheInvalidator
	logger  *logger.Logger
	metrics *metrics.SettlementMetrics
}

// NewService wires the commission ledger. The breaker is injected so the
// remittance path shares one failure budget with everything main constructs.
func NewService(
	repo Repository,
	db txRunner,
	wallets wallet.Service,
	brk *breaker.Breaker,
	cache redis.CacheInvalidator,
	logg *logger.Logger,
	m *metrics.SettlementMetrics,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "commissions repository required")
	}
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "commissions tx runner required")
	}
	if wallets == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "wallet service required")
	}
	if brk == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "circuit breaker required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "commissions logger required")
	}
	return &service{
		repo:    repo,
		db:      db,
		wallets: wallets,
		brk:     brk,
		cache:   cache,
		logger:  logg,
		metrics: m,
	}, nil
}

func (s *service) Create(ctx context.Context, params CreateParams) (*models.Commission, error) {
	if params.OrderID == uuid.Nil || params.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and vendor id are required")
	}
	if !params.OrderAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}
	if params.Rate.IsNegative() || params.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be between 0 and 1")
	}

	commission := &models.Commission{
		ID:               uuid.New(),
		OrderID:          params.OrderID,
		VendorID:         params.VendorID,
		OrderAmount:      params.OrderAmount.Round(2),
		CommissionRate:   params.Rate,
		CommissionAmount: params.OrderAmount.Mul(params.Rate).Round(2),
		Status:           enums.CommissionStatusPending,
		DueDate:          params.DueDate,
	}
	if err := s.repo.Create(ctx, commission); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create commission")
	}
	return commission, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id is required")
	}
	commission, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commission")
	}
	return commission, nil
}

func (s *service) ListByVendor(ctx context.Context, vendorID uuid.UUID, status *enums.CommissionStatus, limit int) ([]models.Commission, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	commissions, err := s.repo.ListByVendor(ctx, vendorID, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list commissions")
	}
	return commissions, nil
}

// RemitViaWallet settles one commission by debiting the vendor wallet. The
// debit, the status flip, and the history appends commit or abort together.
func (s *service) RemitViaWallet(ctx context.Context, commissionID, vendorID uuid.UUID) (*models.Commission, error) {
	if commissionID == uuid.Nil || vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id and vendor id are required")
	}
	if !s.brk.Allow() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "commission settlement temporarily unavailable")
	}

	var remitted *models.Commission
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		commission, err := repo.GetForRemittance(ctx, commissionID, vendorID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "commission not found for vendor")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commission")
		}
		if commission.Status == enums.CommissionStatusRemitted {
			return pkgerrors.New(pkgerrors.CodeConflict, "commission already remitted")
		}
		if !commission.Status.Remittable() {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("commission in status %s cannot be remitted", commission.Status))
		}
		if !commission.CommissionAmount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "commission amount must be positive")
		}

		key := remittanceKey(commission.ID, vendorID)
		exists, err := repo.ExistsRemittanceKey(ctx, key)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check remittance key")
		}
		if exists {
			return pkgerrors.New(pkgerrors.CodeConflict, "commission remittance already recorded")
		}

		txn, err := s.wallets.DebitTx(ctx, tx, wallet.MovementParams{
			ActorID:       vendorID,
			ActorType:     enums.ActorTypeVendor,
			Amount:        commission.CommissionAmount,
			Reference:     "commission remittance",
			ReferenceType: enums.ReferenceTypeCommission,
			ReferenceID:   commission.ID,
		})
		if err != nil {
			if wallet.IsInsufficientBalance(err) {
				return insufficientFundsError(err, commission.CommissionAmount)
			}
			return err
		}

		now := time.Now().UTC()
		method := remittanceMethodWallet
		from := commission.Status
		commission.Status = enums.CommissionStatusRemitted
		commission.RemittanceIdempotencyKey = &key
		commission.RemittedAt = &now
		commission.RemittanceMethod = &method
		if err := commission.AppendRemittance(models.RemittanceRecord{
			Amount:        commission.CommissionAmount,
			Method:        method,
			TransactionID: txn.ID,
			At:            now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append remittance history")
		}
		if err := commission.AppendStatusChange(models.StatusChange{
			From:  from,
			To:    enums.CommissionStatusRemitted,
			Actor: vendorID.String(),
			At:    now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append status history")
		}
		if err := repo.Save(ctx, commission); err != nil {
			// Concurrent remit that slipped past the in-tx key check loses
			// here on the unique index.
			if db.IsUniqueViolation(err, "commissions_remit_key_idx", "remittance_idempotency_key") {
				return pkgerrors.New(pkgerrors.CodeConflict, "commission remittance already recorded")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save commission")
		}

		remitted = commission
		return nil
	})
	if err != nil {
		s.recordBreakerOutcome(err)
		s.metrics.IncRemittance("failed")
		return nil, err
	}

	s.brk.RecordSuccess()
	s.metrics.IncRemittance("remitted")
	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"commission_id": commissionID.String(),
		"vendor_id":     vendorID.String(),
		"amount":        remitted.CommissionAmount.StringFixed(2),
	}), "commission remitted via wallet")
	return remitted, nil
}

// BulkRemit processes commissions one at a time so concurrent debits cannot
// amplify a balance race. The returned error aggregates individual failures
// and does not mean the whole batch failed.
func (s *service) BulkRemit(ctx context.Context, vendorID uuid.UUID, commissionIDs []uuid.UUID) (*BulkRemitResult, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if len(commissionIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one commission id is required")
	}

	result := &BulkRemitResult{Outcomes: make([]RemitOutcome, 0, len(commissionIDs))}
	var batchErr error
	for _, id := range commissionIDs {
		outcome := RemitOutcome{CommissionID: id}
		if _, err := s.RemitViaWallet(ctx, id, vendorID); err != nil {
			outcome.Error = err.Error()
			result.Failed++
			batchErr = multierr.Append(batchErr, fmt.Errorf("commission %s: %w", id, err))
		} else {
			outcome.Remitted = true
			result.Succeeded++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	s.invalidateVendorCache(ctx, vendorID)
	return result, batchErr
}

func (s *service) Waive(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Commission, error) {
	return s.transition(ctx, id, enums.CommissionStatusWaived, actor, reason)
}

func (s *service) Dispute(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Commission, error) {
	return s.transition(ctx, id, enums.CommissionStatusDisputed, actor, reason)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, to enums.CommissionStatus, actor, reason string) (*models.Commission, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id is required")
	}
	if actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}

	var updated *models.Commission
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		commission, err := repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load commission")
		}
		if commission.Status == enums.CommissionStatusRemitted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "a remitted commission cannot change status")
		}
		if commission.Status == to {
			updated = commission
			return nil
		}

		from := commission.Status
		commission.Status = to
		if err := commission.AppendStatusChange(models.StatusChange{
			From:   from,
			To:     to,
			Actor:  actor,
			Reason: reason,
			At:     time.Now().UTC(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append status history")
		}
		if err := repo.Save(ctx, commission); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save commission")
		}
		updated = commission
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// recordBreakerOutcome counts only dependency and persistence failures.
// Validation and state conflicts are caller mistakes, not outages.
func (s *service) recordBreakerOutcome(err error) {
	if pkgerrors.IsCode(err, pkgerrors.CodeInternal) || pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		s.brk.RecordFailure()
	}
}

func (s *service) invalidateVendorCache(ctx context.Context, vendorID uuid.UUID) {
	if s.cache == nil {
		return
	}
	key := s.cache.CacheKey("commissions", "vendor", vendorID.String())
	if err := s.cache.Del(ctx, key); err != nil {
		s.logger.Warn(s.logger.WithFields(ctx, map[string]any{
			"vendor_id": vendorID.String(),
			"error":     err.Error(),
		}), "commission cache invalidation failed")
	}
}

func remittanceKey(commissionID, vendorID uuid.UUID) string {
	sum := sha256.Sum256([]byte(commissionID.String() + ":" + vendorID.String()))
	return "remit_" + hex.EncodeToString(sum[:16])
}

func insufficientFundsError(cause error, amount decimal.Decimal) error {
	balance := "0.00"
	if typed := pkgerrors.As(cause); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if v, ok := details["balance"].(string); ok {
				balance = v
			}
		}
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("wallet balance %s is insufficient to remit commission of %s", balance, amount.StringFixed(2)))
}
