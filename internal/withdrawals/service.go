package withdrawals

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/internal/payments"
	"github.com/merkadoph/merkado-backend/internal/wallet"
	"github.com/merkadoph/merkado-backend/pkg/config"
	"github.com/merkadoph/merkado-backend/pkg/db"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/mailer"
	"github.com/merkadoph/merkado-backend/pkg/metrics"
)

// Service manages vendor wallet withdrawals. Withdrawals reuse the Payment
// table with type=withdraw; the wallet debit lands in the same transaction
// that persists the pending row, so a failed debit leaves nothing behind.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*models.Payment, error)
	Approve(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error)
	Cancel(ctx context.Context, id, vendorID uuid.UUID) (*models.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, limit int) ([]models.Payment, error)
}

// CreateParams describes one withdrawal request.
type CreateParams struct {
	VendorID       uuid.UUID
	AmountCents    int64
	Method         enums.PayoutMethod
	Account        string
	AccountName    string
	NotifyEmail    string
	IdempotencyKey *string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// notifier is the mail surface withdrawals need; *mailer.Mailer satisfies it.
type notifier interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type service struct {
	repo    payments.Repository
	db      txRunner
	wallets wallet.Service
	mail    notifier
	logger  *logger.Logger
	metrics *metrics.SettlementMetrics
	cfg     config.WithdrawalConfig
}

func NewService(
	repo payments.Repository,
	dbRunner txRunner,
	wallets wallet.Service,
	mail notifier,
	logg *logger.Logger,
	m *metrics.SettlementMetrics,
	cfg config.WithdrawalConfig,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if dbRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "withdrawals tx runner required")
	}
	if wallets == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "wallet service required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "withdrawals logger required")
	}
	return &service{
		repo:    repo,
		db:      dbRunner,
		wallets: wallets,
		mail:    mail,
		logger:  logg,
		metrics: m,
		cfg:     cfg,
	}, nil
}

func (s *service) Create(ctx context.Context, params CreateParams) (*models.Payment, error) {
	if err := s.validateCreate(params); err != nil {
		return nil, err
	}

	key := derivedKey(params)
	if params.IdempotencyKey != nil && *params.IdempotencyKey != "" {
		key = *params.IdempotencyKey
	}
	if existing, err := s.repo.GetByActorAndKey(ctx, params.VendorID, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check withdrawal idempotency key")
	}

	method := params.Method
	account := params.Account
	name := params.AccountName
	payment := &models.Payment{
		ID:             uuid.New(),
		ActorID:        params.VendorID,
		ActorType:      enums.ActorTypeVendor,
		Type:           enums.PaymentTypeWithdraw,
		AmountCents:    params.AmountCents,
		NetAmountCents: params.AmountCents,
		Status:         enums.PaymentStatusPending,
		IdempotencyKey: &key,
		PayoutMethod:   &method,
		PayoutAccount:  &account,
		PayoutName:     &name,
	}
	if params.NotifyEmail != "" {
		meta, err := json.Marshal(map[string]string{"notify_email": params.NotifyEmail})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode withdrawal metadata")
		}
		payment.Metadata = meta
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		// Debit first. The pending row only exists if the wallet covered
		// it, so a lost race never strands a pending withdrawal.
		_, err := s.wallets.DebitTx(ctx, tx, wallet.MovementParams{
			ActorID:       params.VendorID,
			ActorType:     enums.ActorTypeVendor,
			Amount:        centsToDecimal(params.AmountCents),
			Reference:     "wallet withdrawal",
			ReferenceType: enums.ReferenceTypeWithdrawal,
			ReferenceID:   payment.ID,
		})
		if err != nil {
			if wallet.IsInsufficientBalance(err) {
				return insufficientBalanceError(err, params.AmountCents)
			}
			return err
		}
		return s.repo.WithTx(tx).Create(ctx, payment)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			if existing, fetchErr := s.repo.GetByActorAndKey(ctx, params.VendorID, key); fetchErr == nil {
				return existing, nil
			}
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "withdrawal request already submitted")
		}
		return nil, err
	}

	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"withdrawal_id": payment.ID.String(),
		"vendor_id":     params.VendorID.String(),
		"amount_cents":  params.AmountCents,
		"method":        method.String(),
	}), "withdrawal created")
	s.notify(ctx, payment, "Withdrawal request received",
		fmt.Sprintf("We received your withdrawal request for %s PHP via %s. You will be notified once it is processed.",
			centsToDecimal(params.AmountCents).StringFixed(2), method))
	return payment, nil
}

// Approve finalizes a pending withdrawal. The wallet was already debited at
// creation, so approval only flips the record.
func (s *service) Approve(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	applied, err := s.repo.TransitionStatus(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusSucceeded, map[string]any{
		"is_final": true,
		"paid_at":  now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approve withdrawal")
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("withdrawal in status %s cannot be approved", payment.Status))
	}
	s.metrics.IncPaymentTransition(enums.PaymentStatusPending.String(), enums.PaymentStatusSucceeded.String())

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, updated, "Withdrawal approved",
		fmt.Sprintf("Your withdrawal of %s PHP has been approved and sent to your payout account.",
			centsToDecimal(updated.AmountCents).StringFixed(2)))
	return updated, nil
}

func (s *service) Reject(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error) {
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	return s.reverse(ctx, id, enums.PaymentStatusRejected, reason, "Withdrawal rejected")
}

func (s *service) Cancel(ctx context.Context, id, vendorID uuid.UUID) (*models.Payment, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.ActorID != vendorID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
	}
	return s.reverse(ctx, id, enums.PaymentStatusCancelled, "cancelled by vendor", "Withdrawal cancelled")
}

// reverse flips a pending withdrawal to a terminal failure status and credits
// the amount back in the same transaction, tagged as a reversal so the ledger
// shows the round trip instead of a silent correction.
func (s *service) reverse(ctx context.Context, id uuid.UUID, to enums.PaymentStatus, reason, subject string) (*models.Payment, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).TransitionStatus(ctx, payment.ID, enums.PaymentStatusPending, to, map[string]any{
			"is_final":       true,
			"failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transition withdrawal")
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("withdrawal in status %s cannot transition to %s", payment.Status, to))
		}

		_, err = s.wallets.CreditTx(ctx, tx, wallet.MovementParams{
			ActorID:       payment.ActorID,
			ActorType:     enums.ActorTypeVendor,
			Amount:        centsToDecimal(payment.AmountCents),
			Reference:     "withdrawal reversal",
			ReferenceType: enums.ReferenceTypeWithdrawalReversal,
			ReferenceID:   payment.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncPaymentTransition(enums.PaymentStatusPending.String(), to.String())

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, updated, subject,
		fmt.Sprintf("Your withdrawal of %s PHP was not processed (%s). The amount has been returned to your wallet.",
			centsToDecimal(updated.AmountCents).StringFixed(2), reason))
	return updated, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id is required")
	}
	payment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load withdrawal")
	}
	if payment.Type != enums.PaymentTypeWithdraw {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
	}
	return payment, nil
}

func (s *service) ListByVendor(ctx context.Context, vendorID uuid.UUID, limit int) ([]models.Payment, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	list, err := s.repo.ListByActor(ctx, vendorID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list withdrawals")
	}
	withdrawals := list[:0]
	for _, p := range list {
		if p.Type == enums.PaymentTypeWithdraw {
			withdrawals = append(withdrawals, p)
		}
	}
	return withdrawals, nil
}

func (s *service) validateCreate(params CreateParams) error {
	if params.VendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if params.AmountCents < s.cfg.MinAmountCents {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("withdrawal amount must be at least %s PHP", centsToDecimal(s.cfg.MinAmountCents).StringFixed(2)))
	}
	if !params.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("payout method %q is not supported", params.Method))
	}
	if params.Account == "" || params.AccountName == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payout account and account name are required")
	}
	return nil
}

// notify is fire-and-forget; settlement never blocks on mail.
func (s *service) notify(ctx context.Context, payment *models.Payment, subject, body string) {
	if s.mail == nil {
		return
	}
	email := notifyEmail(payment)
	if email == "" {
		return
	}
	if err := s.mail.Send(ctx, mailer.Message{
		To:       []string{email},
		Subject:  subject,
		TextBody: body,
	}); err != nil {
		s.logger.Warn(s.logger.WithFields(ctx, map[string]any{
			"withdrawal_id": payment.ID.String(),
			"error":         err.Error(),
		}), "withdrawal notification failed")
	}
}

func notifyEmail(payment *models.Payment) string {
	if len(payment.Metadata) == 0 {
		return ""
	}
	var meta map[string]string
	if err := json.Unmarshal(payment.Metadata, &meta); err != nil {
		return ""
	}
	return meta["notify_email"]
}

// derivedKey collapses retried identical requests onto one key even when the
// caller sent no idempotency header.
func derivedKey(params CreateParams) string {
	material := fmt.Sprintf("%s|%d|%s|%s", params.VendorID, params.AmountCents, params.Method, params.Account)
	sum := sha256.Sum256([]byte(material))
	return "wd_" + hex.EncodeToString(sum[:16])
}

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

func insufficientBalanceError(cause error, amountCents int64) error {
	balance := "0.00"
	if typed := pkgerrors.As(cause); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if v, ok := details["balance"].(string); ok {
				balance = v
			}
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation,
		fmt.Sprintf("wallet balance %s cannot cover a withdrawal of %s", balance, centsToDecimal(amountCents).StringFixed(2)))
}
