package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/internal/orders"
	"github.com/merkadoph/merkado-backend/internal/wallet"
	"github.com/merkadoph/merkado-backend/pkg/config"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/metrics"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives the payment lifecycle: creation against the gateway, status
// convergence from webhooks and polling, and the settlement side effects a
// succeeded payment triggers.
type Service interface {
	CreateCheckoutPayment(ctx context.Context, params CheckoutPaymentParams) (*models.Payment, error)
	CreateQRPHPayment(ctx context.Context, params QRPHPaymentParams) (*models.Payment, error)
	CreateCashIn(ctx context.Context, params CashInParams) (*models.Payment, error)
	CreateSubscriptionQRPHPayment(ctx context.Context, params SubscriptionPaymentParams) (*models.Payment, error)
	CreateRefund(ctx context.Context, params RefundParams) (*models.Payment, error)

	ApplyGatewayStatus(ctx context.Context, paymentID uuid.UUID, gatewayStatus string, failure *GatewayFailure) (*models.Payment, error)
	SyncPaymentStatus(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	HandleWebhookEvent(ctx context.Context, event *paymongo.WebhookEvent) error
	RecoverOrders(ctx context.Context, paymentID uuid.UUID) (*orders.MaterializeResult, error)

	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListByActor(ctx context.Context, actorID uuid.UUID, limit int) ([]models.Payment, error)
}

// GatewayFailure carries the failure detail reported by the gateway.
type GatewayFailure struct {
	Code    string
	Message string
}

type service struct {
	repo         Repository
	db           txRunner
	gateway      paymongo.Gateway
	materializer orders.Service
	wallets      wallet.Service
	logger       *logger.Logger
	metrics      *metrics.SettlementMetrics
	cfg          config.PaymentConfig
}

// NewService wires payment lifecycle dependencies. The gateway and the
// materializer are injected so tests can substitute fakes.
func NewService(
	repo Repository,
	db txRunner,
	gateway paymongo.Gateway,
	materializer orders.Service,
	wallets wallet.Service,
	logg *logger.Logger,
	m *metrics.SettlementMetrics,
	cfg config.PaymentConfig,
) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments tx runner required")
	}
	if gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway required")
	}
	if materializer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order materializer required")
	}
	if wallets == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "wallet service required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments logger required")
	}
	return &service{
		repo:         repo,
		db:           db,
		gateway:      gateway,
		materializer: materializer,
		wallets:      wallets,
		logger:       logg,
		metrics:      m,
		cfg:          cfg,
	}, nil
}

func (s *service) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	payment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	return payment, nil
}

func (s *service) ListByActor(ctx context.Context, actorID uuid.UUID, limit int) ([]models.Payment, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	list, err := s.repo.ListByActor(ctx, actorID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}
	return list, nil
}

// timeGatewayCall reports the duration of one gateway operation to metrics.
func (s *service) timeGatewayCall(operation string) func() {
	start := time.Now()
	return func() {
		s.metrics.ObserveGatewayCall(operation, time.Since(start))
	}
}
