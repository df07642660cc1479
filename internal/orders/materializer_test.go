package orders

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/internal/cart"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	payments := `
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
);`
	orders := `
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
);`
	cartItems := `
CREATE TABLE IF NOT EXISTS cart_items (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  qty INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(payments).Error)
	require.NoError(t, db.Exec(orders).Error)
	require.NoError(t, db.Exec(cartItems).Error)
	return db
}

func newMaterializer(t *testing.T, db *gorm.DB) Service {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
	svc, err := NewService(NewRepository(db), cart.NewRepository(db), &testTxRunner{db: db}, nil, logg, nil, Config{})
	require.NoError(t, err)
	return svc
}

func seedCheckoutPayment(t *testing.T, db *gorm.DB, buyerID uuid.UUID, items []models.CheckoutItem) *models.Payment {
	t.Helper()

	snapshot := models.CheckoutSnapshot{
		BuyerID:         buyerID,
		Items:           items,
		ShippingAddress: "12 Mabini St, Quezon City",
	}
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)

	var total int64
	for _, item := range items {
		total += item.UnitPriceCents * int64(item.Qty)
	}

	payment := &models.Payment{
		ID:             uuid.New(),
		ActorID:        buyerID,
		ActorType:      enums.ActorTypeUser,
		Type:           enums.PaymentTypeCheckout,
		Status:         enums.PaymentStatusSucceeded,
		AmountCents:    total,
		NetAmountCents: total,
		CheckoutData:   data,
	}
	require.NoError(t, db.Create(payment).Error)
	return payment
}

func checkoutItems(vendorA, vendorB uuid.UUID) []models.CheckoutItem {
	return []models.CheckoutItem{
		{ProductID: uuid.New(), VendorID: vendorA, Name: "Dried mangoes", Qty: 2, UnitPriceCents: 15000},
		{ProductID: uuid.New(), VendorID: vendorA, Name: "Banana chips", Qty: 1, UnitPriceCents: 9000},
		{ProductID: uuid.New(), VendorID: vendorB, Name: "Barako beans", Qty: 3, UnitPriceCents: 25000},
	}
}

func TestMaterializeCreatesOrderPerVendor(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newMaterializer(t, db)
	buyerID := uuid.New()
	vendorA, vendorB := uuid.New(), uuid.New()
	items := checkoutItems(vendorA, vendorB)
	payment := seedCheckoutPayment(t, db, buyerID, items)

	// Seed cart rows matching the snapshot so cleanup has something to remove.
	for _, item := range items {
		require.NoError(t, db.Create(&models.CartItem{
			ID: uuid.New(), BuyerID: buyerID, ProductID: item.ProductID,
			VendorID: item.VendorID, Qty: item.Qty, UnitPriceCents: item.UnitPriceCents,
		}).Error)
	}

	result, err := svc.Materialize(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Len(t, result.OrderIDs, 2)

	created, err := svc.ListByPaymentID(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Len(t, created, 2)

	subtotals := map[uuid.UUID]int64{}
	for _, order := range created {
		assert.Equal(t, enums.OrderStatusPaid, order.Status)
		assert.Equal(t, enums.EscrowStatusHeld, order.EscrowStatus)
		assert.NotEmpty(t, order.TrackingNumber)
		subtotals[order.VendorID] = order.SubtotalCents
	}
	assert.Equal(t, int64(39000), subtotals[vendorA])
	assert.Equal(t, int64(75000), subtotals[vendorB])

	var reloaded models.Payment
	require.NoError(t, db.First(&reloaded, "id = ?", payment.ID).Error)
	assert.True(t, reloaded.OrdersCreated)
	assert.Len(t, reloaded.OrderIDs, 2)
	assert.Nil(t, reloaded.OrderCreationError)
	assert.Nil(t, reloaded.OrderClaimedAt)

	var cartCount int64
	require.NoError(t, db.Model(&models.CartItem{}).Where("buyer_id = ?", buyerID).Count(&cartCount).Error)
	assert.Equal(t, int64(0), cartCount, "purchased items should leave the cart")
}

func TestMaterializeIsIdempotent(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newMaterializer(t, db)
	buyerID := uuid.New()
	payment := seedCheckoutPayment(t, db, buyerID, checkoutItems(uuid.New(), uuid.New()))

	first, err := svc.Materialize(context.Background(), payment.ID)
	require.NoError(t, err)

	second, err := svc.Materialize(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, second.Complete)
	assert.ElementsMatch(t, first.OrderIDs, second.OrderIDs)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Where("payment_id = ?", payment.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count, "second run must not duplicate orders")
}

func TestMaterializeRejectsLiveClaim(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newMaterializer(t, db)
	payment := seedCheckoutPayment(t, db, uuid.New(), checkoutItems(uuid.New(), uuid.New()))

	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(map[string]any{
		"order_creation_error": "in_progress",
		"order_claimed_at":     now,
	}).Error)

	_, err := svc.Materialize(context.Background(), payment.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestMaterializeReclaimsStaleClaim(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newMaterializer(t, db)
	payment := seedCheckoutPayment(t, db, uuid.New(), checkoutItems(uuid.New(), uuid.New()))

	stale := time.Now().UTC().Add(-11 * time.Minute)
	require.NoError(t, db.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(map[string]any{
		"order_creation_error": "in_progress",
		"order_claimed_at":     stale,
	}).Error)

	result, err := svc.Materialize(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Len(t, result.OrderIDs, 2)
}

func TestMaterializeSkipsAlreadyCreatedVendorGroups(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newMaterializer(t, db)
	buyerID := uuid.New()
	vendorA, vendorB := uuid.New(), uuid.New()
	payment := seedCheckoutPayment(t, db, buyerID, checkoutItems(vendorA, vendorB))

	// A previous partial run already materialized vendor A.
	existing := &models.Order{
		ID: uuid.New(), PaymentID: payment.ID, BuyerID: buyerID, VendorID: vendorA,
		SubtotalCents: 39000, Status: enums.OrderStatusPaid, EscrowStatus: enums.EscrowStatusHeld,
		TrackingNumber: "MK-EXISTING1",
	}
	require.NoError(t, db.Create(existing).Error)

	result, err := svc.Materialize(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Len(t, result.OrderIDs, 2)

	var skipped, created int
	for _, outcome := range result.Outcomes {
		if outcome.Skipped {
			skipped++
			assert.Equal(t, vendorA, outcome.VendorID)
			assert.Equal(t, existing.ID, *outcome.OrderID)
		}
		if outcome.Created {
			created++
			assert.Equal(t, vendorB, outcome.VendorID)
		}
	}
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, created)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Where("payment_id = ?", payment.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestMaterializeZeroItemsRecordsError(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newMaterializer(t, db)
	payment := seedCheckoutPayment(t, db, uuid.New(), nil)

	_, err := svc.Materialize(context.Background(), payment.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	var reloaded models.Payment
	require.NoError(t, db.First(&reloaded, "id = ?", payment.ID).Error)
	assert.False(t, reloaded.OrdersCreated)
	require.NotNil(t, reloaded.OrderCreationError)
	assert.Contains(t, *reloaded.OrderCreationError, "no checkout items")
	assert.Nil(t, reloaded.OrderClaimedAt)
}

func TestMaterializeRequiresSucceededPayment(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newMaterializer(t, db)
	payment := seedCheckoutPayment(t, db, uuid.New(), checkoutItems(uuid.New(), uuid.New()))
	require.NoError(t, db.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("status", enums.PaymentStatusProcessing).Error)

	_, err := svc.Materialize(context.Background(), payment.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
