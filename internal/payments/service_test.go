package payments

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/internal/cart"
	"github.com/merkadoph/merkado-backend/internal/orders"
	"github.com/merkadoph/merkado-backend/internal/wallet"
	"github.com/merkadoph/merkado-backend/pkg/config"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// fakeGateway implements paymongo.Gateway with scripted responses.
type fakeGateway struct {
	intents       int
	methods       int
	attaches      int
	retrieves     int
	refunds       int
	failCreate    error
	retrieveState string
	retrieveFail  *paymongo.PaymentIntent
	refundResult  *paymongo.Refund
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, params paymongo.IntentCreateParams) (*paymongo.PaymentIntent, error) {
	g.intents++
	if g.failCreate != nil {
		return nil, g.failCreate
	}
	return &paymongo.PaymentIntent{
		ID:          "pi_" + uuid.NewString()[:8],
		Status:      paymongo.IntentStatusAwaitingPaymentMethod,
		AmountCents: params.AmountCents,
		Currency:    "PHP",
	}, nil
}

func (g *fakeGateway) CreatePaymentMethod(ctx context.Context, params paymongo.MethodCreateParams) (*paymongo.PaymentMethod, error) {
	g.methods++
	return &paymongo.PaymentMethod{ID: "pm_" + uuid.NewString()[:8], Type: paymongo.PaymentMethodQRPH}, nil
}

func (g *fakeGateway) AttachPaymentMethod(ctx context.Context, intentID, methodID, returnURL string) (*paymongo.PaymentIntent, error) {
	g.attaches++
	return &paymongo.PaymentIntent{
		ID:         intentID,
		Status:     paymongo.IntentStatusAwaitingNextAction,
		QRImageURL: "https://example.test/qr.png",
	}, nil
}

func (g *fakeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*paymongo.PaymentIntent, error) {
	g.retrieves++
	if g.retrieveFail != nil {
		return g.retrieveFail, nil
	}
	status := g.retrieveState
	if status == "" {
		status = paymongo.IntentStatusProcessing
	}
	return &paymongo.PaymentIntent{ID: intentID, Status: status, PaymentID: "pay_settled"}, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, params paymongo.RefundCreateParams) (*paymongo.Refund, error) {
	g.refunds++
	if g.refundResult != nil {
		return g.refundResult, nil
	}
	return &paymongo.Refund{ID: "ref_" + uuid.NewString()[:8], Status: "pending", AmountCents: params.AmountCents}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, header string) bool { return true }

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  actor_id TEXT NOT NULL,
  actor_type TEXT NOT NULL DEFAULT 'user',
  type TEXT NOT NULL,
  provider TEXT NOT NULL DEFAULT 'paymongo',
  gateway_intent_id TEXT,
  order_id TEXT,
  amount_cents INTEGER NOT NULL,
  fee_cents INTEGER NOT NULL DEFAULT 0,
  net_amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'PHP',
  status TEXT NOT NULL DEFAULT 'pending',
  is_final INTEGER NOT NULL DEFAULT 0,
  idempotency_key TEXT,
  checkout_data TEXT,
  qr_image_url TEXT,
  description TEXT,
  metadata TEXT,
  orders_created INTEGER NOT NULL DEFAULT 0,
  order_ids TEXT,
  order_creation_error TEXT,
  order_claimed_at DATETIME,
  wallet_credited INTEGER NOT NULL DEFAULT 0,
  wallet_credited_at DATETIME,
  payout_method TEXT,
  payout_account TEXT,
  payout_name TEXT,
  paid_at DATETIME,
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS payments_actor_idem_idx
  ON payments (actor_id, idempotency_key) WHERE idempotency_key IS NOT NULL;`, `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  payment_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  subtotal_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'paid',
  escrow_status TEXT NOT NULL DEFAULT 'held',
  tracking_number TEXT NOT NULL UNIQUE,
  items TEXT,
  shipping_address TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS cart_items (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  qty INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  actor_id TEXT NOT NULL,
  actor_type TEXT NOT NULL,
  balance NUMERIC NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'PHP',
  locked INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (actor_id, actor_type)
);`, `
CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  direction TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  balance_before NUMERIC NOT NULL,
  balance_after NUMERIC NOT NULL,
  reference TEXT NOT NULL,
  reference_type TEXT NOT NULL,
  reference_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'completed',
  created_at DATETIME
);`}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type paymentsHarness struct {
	svc     Service
	gateway *fakeGateway
	db      *gorm.DB
	wallets wallet.Service
}

func newPaymentsHarness(t *testing.T) *paymentsHarness {
	t.Helper()

	db := setupPaymentsTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
	runner := &testTxRunner{db: db}

	wallets, err := wallet.NewService(wallet.NewRepository(db), runner, logg, nil)
	require.NoError(t, err)

	materializer, err := orders.NewService(orders.NewRepository(db), cart.NewRepository(db), runner, nil, logg, nil, orders.Config{})
	require.NoError(t, err)

	gateway := &fakeGateway{}
	svc, err := NewService(NewRepository(db), runner, gateway, materializer, wallets, logg, nil, config.PaymentConfig{CashInFeeBPS: 150})
	require.NoError(t, err)

	return &paymentsHarness{svc: svc, gateway: gateway, db: db, wallets: wallets}
}

func TestCreateCashInComputesFeeAndNet(t *testing.T) {
	h := newPaymentsHarness(t)

	payment, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID:     uuid.New(),
		ActorType:   enums.ActorTypeUser,
		AmountCents: 10000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), payment.AmountCents)
	assert.Equal(t, int64(150), payment.FeeCents)
	assert.Equal(t, int64(9850), payment.NetAmountCents)
	assert.Equal(t, enums.PaymentStatusAwaitingPayment, payment.Status)
	require.NotNil(t, payment.QRImageURL)
	assert.Equal(t, 1, h.gateway.intents)
	assert.Equal(t, 1, h.gateway.attaches)
}

func TestCashInSettlementCreditsWalletOnce(t *testing.T) {
	h := newPaymentsHarness(t)
	actorID := uuid.New()

	payment, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID:     actorID,
		ActorType:   enums.ActorTypeUser,
		AmountCents: 10000,
	})
	require.NoError(t, err)

	// Webhook and poll both report success; the credit must land once.
	_, err = h.svc.ApplyGatewayStatus(context.Background(), payment.ID, paymongo.IntentStatusSucceeded, nil)
	require.NoError(t, err)
	_, err = h.svc.ApplyGatewayStatus(context.Background(), payment.ID, paymongo.IntentStatusSucceeded, nil)
	require.NoError(t, err)

	w, err := h.wallets.GetOrCreate(context.Background(), actorID, enums.ActorTypeUser)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("98.50")), "balance = %s", w.Balance)

	var txnCount int64
	require.NoError(t, h.db.Model(&models.WalletTransaction{}).Count(&txnCount).Error)
	assert.Equal(t, int64(1), txnCount)

	reloaded, err := h.svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.WalletCredited)
	assert.True(t, reloaded.IsFinal)
	assert.NotNil(t, reloaded.PaidAt)
}

func TestCashInIdempotencyKeyReplays(t *testing.T) {
	h := newPaymentsHarness(t)
	actorID := uuid.New()
	key := "cashin-key-1"

	first, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID: actorID, ActorType: enums.ActorTypeUser, AmountCents: 5000, IdempotencyKey: &key,
	})
	require.NoError(t, err)

	second, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID: actorID, ActorType: enums.ActorTypeUser, AmountCents: 5000, IdempotencyKey: &key,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.gateway.intents, "replay must not hit the gateway again")
}

func TestGatewayFailureLeavesNoRow(t *testing.T) {
	h := newPaymentsHarness(t)
	h.gateway.failCreate = pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unreachable")

	_, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID: uuid.New(), ActorType: enums.ActorTypeUser, AmountCents: 10000,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	var count int64
	require.NoError(t, h.db.Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestZeroAmountCheckoutBypassesGateway(t *testing.T) {
	h := newPaymentsHarness(t)
	buyerID := uuid.New()

	payment, err := h.svc.CreateCheckoutPayment(context.Background(), CheckoutPaymentParams{
		BuyerID: buyerID,
		Items: []models.CheckoutItem{
			{ProductID: uuid.New(), VendorID: uuid.New(), Name: "Free sample", Qty: 1, UnitPriceCents: 0},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, h.gateway.intents, "free checkout must not touch the gateway")
	assert.Equal(t, enums.PaymentStatusSucceeded, payment.Status)
	assert.True(t, payment.OrdersCreated)
	assert.Len(t, payment.OrderIDs, 1)

	var orderCount int64
	require.NoError(t, h.db.Model(&models.Order{}).Count(&orderCount).Error)
	assert.Equal(t, int64(1), orderCount)
}

func TestCheckoutSettlementMaterializesOrders(t *testing.T) {
	h := newPaymentsHarness(t)
	buyerID := uuid.New()
	vendorA, vendorB := uuid.New(), uuid.New()

	payment, err := h.svc.CreateCheckoutPayment(context.Background(), CheckoutPaymentParams{
		BuyerID: buyerID,
		Items: []models.CheckoutItem{
			{ProductID: uuid.New(), VendorID: vendorA, Name: "Dried mangoes", Qty: 2, UnitPriceCents: 15000},
			{ProductID: uuid.New(), VendorID: vendorB, Name: "Barako beans", Qty: 1, UnitPriceCents: 25000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAwaitingPayment, payment.Status)

	updated, err := h.svc.ApplyGatewayStatus(context.Background(), payment.ID, paymongo.IntentStatusSucceeded, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, updated.Status)
	assert.True(t, updated.OrdersCreated)
	assert.Len(t, updated.OrderIDs, 2)
}

func TestApplyGatewayStatusNoopsAndFinality(t *testing.T) {
	h := newPaymentsHarness(t)

	payment, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID: uuid.New(), ActorType: enums.ActorTypeUser, AmountCents: 10000,
	})
	require.NoError(t, err)

	// Equal status is a no-op.
	same, err := h.svc.ApplyGatewayStatus(context.Background(), payment.ID, paymongo.IntentStatusAwaitingPaymentMethod, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAwaitingPayment, same.Status)

	_, err = h.svc.ApplyGatewayStatus(context.Background(), payment.ID, paymongo.IntentStatusSucceeded, nil)
	require.NoError(t, err)

	// A late failure report cannot regress a final payment.
	final, err := h.svc.ApplyGatewayStatus(context.Background(), payment.ID, "failed", &GatewayFailure{Code: "late", Message: "late failure"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, final.Status)
	assert.Nil(t, final.FailureReason)
}

func TestApplyGatewayStatusRecordsFailure(t *testing.T) {
	h := newPaymentsHarness(t)

	payment, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID: uuid.New(), ActorType: enums.ActorTypeUser, AmountCents: 10000,
	})
	require.NoError(t, err)

	failed, err := h.svc.ApplyGatewayStatus(context.Background(), payment.ID, "failed", &GatewayFailure{
		Code: "insufficient_funds", Message: "The account has insufficient funds.",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, failed.Status)
	assert.True(t, failed.IsFinal)
	require.NotNil(t, failed.FailureReason)
	assert.Contains(t, *failed.FailureReason, "insufficient_funds")
}

func TestSyncPaymentStatusPollsGateway(t *testing.T) {
	h := newPaymentsHarness(t)
	h.gateway.retrieveState = paymongo.IntentStatusSucceeded

	payment, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID: uuid.New(), ActorType: enums.ActorTypeUser, AmountCents: 10000,
	})
	require.NoError(t, err)

	synced, err := h.svc.SyncPaymentStatus(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, synced.Status)
	assert.Equal(t, 1, h.gateway.retrieves)
}

func TestHandleWebhookEventUnknownPaymentIgnored(t *testing.T) {
	h := newPaymentsHarness(t)

	err := h.svc.HandleWebhookEvent(context.Background(), &paymongo.WebhookEvent{
		Type:            paymongo.EventPaymentPaid,
		GatewayIntentID: "pi_unknown",
	})
	require.NoError(t, err)
}

func TestHandleWebhookEventRefundReconcilesPayment(t *testing.T) {
	h := newPaymentsHarness(t)

	payment, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID: uuid.New(), ActorType: enums.ActorTypeUser, AmountCents: 10000,
	})
	require.NoError(t, err)
	_, err = h.svc.ApplyGatewayStatus(context.Background(), payment.ID, paymongo.IntentStatusSucceeded, nil)
	require.NoError(t, err)

	// Partial refund first, then the gateway refunds the rest.
	require.NoError(t, h.svc.HandleWebhookEvent(context.Background(), &paymongo.WebhookEvent{
		Type:            paymongo.EventPaymentRefunded,
		GatewayIntentID: *payment.GatewayIntentID,
		AmountCents:     4000,
	}))
	reloaded, err := h.svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, reloaded.Status)

	require.NoError(t, h.svc.HandleWebhookEvent(context.Background(), &paymongo.WebhookEvent{
		Type:            paymongo.EventPaymentRefunded,
		GatewayIntentID: *payment.GatewayIntentID,
	}))
	reloaded, err = h.svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, reloaded.Status)

	// A late duplicate delivery must not error or move the status back.
	require.NoError(t, h.svc.HandleWebhookEvent(context.Background(), &paymongo.WebhookEvent{
		Type:            paymongo.EventPaymentRefunded,
		GatewayIntentID: *payment.GatewayIntentID,
		AmountCents:     4000,
	}))
	reloaded, err = h.svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, reloaded.Status)
}

func TestCreateQRPHPaymentRejectsPaidOrder(t *testing.T) {
	h := newPaymentsHarness(t)
	orderID := uuid.New()

	seeded := &models.Payment{
		ID: uuid.New(), ActorID: uuid.New(), ActorType: enums.ActorTypeUser,
		Type: enums.PaymentTypeCheckout, OrderID: &orderID,
		AmountCents: 5000, NetAmountCents: 5000,
		Status: enums.PaymentStatusSucceeded, IsFinal: true,
	}
	require.NoError(t, h.db.Create(seeded).Error)

	_, err := h.svc.CreateQRPHPayment(context.Background(), QRPHPaymentParams{
		ActorID: uuid.New(), ActorType: enums.ActorTypeUser, OrderID: orderID, AmountCents: 5000,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestCreateRefundMarksOriginal(t *testing.T) {
	h := newPaymentsHarness(t)
	h.gateway.retrieveState = paymongo.IntentStatusSucceeded

	payment, err := h.svc.CreateCashIn(context.Background(), CashInParams{
		ActorID: uuid.New(), ActorType: enums.ActorTypeUser, AmountCents: 10000,
	})
	require.NoError(t, err)
	_, err = h.svc.ApplyGatewayStatus(context.Background(), payment.ID, paymongo.IntentStatusSucceeded, nil)
	require.NoError(t, err)

	refund, err := h.svc.CreateRefund(context.Background(), RefundParams{
		PaymentID: payment.ID, AmountCents: 4000, Reason: "damaged goods",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentTypeRefund, refund.Type)
	assert.Equal(t, int64(4000), refund.AmountCents)
	assert.Equal(t, 1, h.gateway.refunds)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(refund.Metadata, &meta))
	assert.NotEmpty(t, meta["gateway_refund_id"])

	original, err := h.svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, original.Status)
}
