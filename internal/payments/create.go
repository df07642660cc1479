package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/pkg/db"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
)

// CheckoutPaymentParams starts a pay-first checkout. The cart contents are
// snapshotted onto the payment; orders materialize only after settlement.
type CheckoutPaymentParams struct {
	BuyerID         uuid.UUID
	Items           []models.CheckoutItem
	ShippingAddress string
	Description     string
	IdempotencyKey  *string
}

// QRPHPaymentParams creates a QRPH payment against an existing order.
type QRPHPaymentParams struct {
	ActorID     uuid.UUID
	ActorType   enums.ActorType
	OrderID     uuid.UUID
	AmountCents int64
	Description string
}

// CashInParams tops up an actor's wallet through the gateway.
type CashInParams struct {
	ActorID        uuid.UUID
	ActorType      enums.ActorType
	AmountCents    int64
	IdempotencyKey *string
}

// SubscriptionPaymentParams creates a QRPH payment for a subscription charge.
type SubscriptionPaymentParams struct {
	ActorID        uuid.UUID
	ActorType      enums.ActorType
	AmountCents    int64
	Description    string
	IdempotencyKey *string
}

func (s *service) CreateCheckoutPayment(ctx context.Context, params CheckoutPaymentParams) (*models.Payment, error) {
	if params.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if len(params.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout requires at least one item")
	}

	var total int64
	for _, item := range params.Items {
		if item.ProductID == uuid.Nil || item.VendorID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout item requires product and vendor ids")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout item qty must be positive")
		}
		if item.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout item price cannot be negative")
		}
		total += item.UnitPriceCents * int64(item.Qty)
	}

	if existing, found, err := s.replayByKey(ctx, params.BuyerID, params.IdempotencyKey); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	snapshot := models.CheckoutSnapshot{
		BuyerID:         params.BuyerID,
		Items:           params.Items,
		ShippingAddress: params.ShippingAddress,
	}
	checkoutData, err := json.Marshal(snapshot)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout snapshot")
	}

	payment := &models.Payment{
		ID:             uuid.New(),
		ActorID:        params.BuyerID,
		ActorType:      enums.ActorTypeUser,
		Type:           enums.PaymentTypeCheckout,
		Provider:       enums.PaymentProviderPayMongo,
		AmountCents:    total,
		Currency:       "PHP",
		Status:         enums.PaymentStatusAwaitingPayment,
		IdempotencyKey: params.IdempotencyKey,
		CheckoutData:   checkoutData,
	}
	if params.Description != "" {
		payment.Description = &params.Description
	}
	payment.RecomputeNet()

	// Free checkouts never touch the gateway; the payment settles immediately
	// and orders materialize in the same call.
	if total == 0 {
		now := time.Now().UTC()
		payment.Status = enums.PaymentStatusSucceeded
		payment.IsFinal = true
		payment.PaidAt = &now
		if err := s.persistPayment(ctx, payment, params.BuyerID, params.IdempotencyKey); err != nil {
			return nil, err
		}
		if _, err := s.materializer.Materialize(ctx, payment.ID); err != nil {
			s.logger.Error(s.logger.WithPaymentID(ctx, payment.ID.String()), "materialization after free checkout failed", err)
		}
		return s.repo.GetByID(ctx, payment.ID)
	}

	intent, err := s.createQRIntent(ctx, total, params.Description, map[string]any{
		"purpose":  "checkout",
		"buyer_id": params.BuyerID.String(),
	})
	if err != nil {
		return nil, err
	}
	payment.GatewayIntentID = &intent.ID
	if intent.QRImageURL != "" {
		payment.QRImageURL = &intent.QRImageURL
	}

	if err := s.persistPayment(ctx, payment, params.BuyerID, params.IdempotencyKey); err != nil {
		return nil, err
	}
	s.logger.Info(s.logger.WithPaymentID(ctx, payment.ID.String()), "checkout payment created")
	return payment, nil
}

func (s *service) CreateQRPHPayment(ctx context.Context, params QRPHPaymentParams) (*models.Payment, error) {
	if params.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if !params.ActorType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid actor type %q", params.ActorType))
	}
	if params.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if params.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	if _, err := s.repo.GetSucceededForOrder(ctx, params.OrderID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has a succeeded payment")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing order payment")
	}

	intent, err := s.createQRIntent(ctx, params.AmountCents, params.Description, map[string]any{
		"purpose":  "order_payment",
		"order_id": params.OrderID.String(),
	})
	if err != nil {
		return nil, err
	}

	orderID := params.OrderID
	payment := &models.Payment{
		ID:              uuid.New(),
		ActorID:         params.ActorID,
		ActorType:       params.ActorType,
		Type:            enums.PaymentTypeCheckout,
		Provider:        enums.PaymentProviderPayMongo,
		OrderID:         &orderID,
		GatewayIntentID: &intent.ID,
		AmountCents:     params.AmountCents,
		Currency:        "PHP",
		Status:          enums.PaymentStatusAwaitingPayment,
	}
	if intent.QRImageURL != "" {
		payment.QRImageURL = &intent.QRImageURL
	}
	if params.Description != "" {
		payment.Description = &params.Description
	}
	payment.RecomputeNet()

	if err := s.repo.Create(ctx, payment); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a payment already exists for this order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
	}
	return payment, nil
}

func (s *service) CreateCashIn(ctx context.Context, params CashInParams) (*models.Payment, error) {
	if params.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if !params.ActorType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid actor type %q", params.ActorType))
	}
	if params.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	if existing, found, err := s.replayByKey(ctx, params.ActorID, params.IdempotencyKey); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	fee := params.AmountCents * int64(s.cfg.CashInFeeBPS) / 10000

	intent, err := s.createQRIntent(ctx, params.AmountCents, "wallet cash in", map[string]any{
		"purpose":  "cash_in",
		"actor_id": params.ActorID.String(),
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:              uuid.New(),
		ActorID:         params.ActorID,
		ActorType:       params.ActorType,
		Type:            enums.PaymentTypeCashIn,
		Provider:        enums.PaymentProviderPayMongo,
		GatewayIntentID: &intent.ID,
		AmountCents:     params.AmountCents,
		FeeCents:        fee,
		Currency:        "PHP",
		Status:          enums.PaymentStatusAwaitingPayment,
		IdempotencyKey:  params.IdempotencyKey,
	}
	if intent.QRImageURL != "" {
		payment.QRImageURL = &intent.QRImageURL
	}
	payment.RecomputeNet()

	if err := s.persistPayment(ctx, payment, params.ActorID, params.IdempotencyKey); err != nil {
		return nil, err
	}
	s.logger.Info(s.logger.WithPaymentID(ctx, payment.ID.String()), "cash in payment created")
	return payment, nil
}

func (s *service) CreateSubscriptionQRPHPayment(ctx context.Context, params SubscriptionPaymentParams) (*models.Payment, error) {
	if params.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if !params.ActorType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid actor type %q", params.ActorType))
	}
	if params.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	if existing, found, err := s.replayByKey(ctx, params.ActorID, params.IdempotencyKey); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	intent, err := s.createQRIntent(ctx, params.AmountCents, params.Description, map[string]any{
		"purpose":  "subscription",
		"actor_id": params.ActorID.String(),
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:              uuid.New(),
		ActorID:         params.ActorID,
		ActorType:       params.ActorType,
		Type:            enums.PaymentTypeSubscription,
		Provider:        enums.PaymentProviderPayMongo,
		GatewayIntentID: &intent.ID,
		AmountCents:     params.AmountCents,
		Currency:        "PHP",
		Status:          enums.PaymentStatusAwaitingPayment,
		IdempotencyKey:  params.IdempotencyKey,
	}
	if intent.QRImageURL != "" {
		payment.QRImageURL = &intent.QRImageURL
	}
	if params.Description != "" {
		payment.Description = &params.Description
	}
	payment.RecomputeNet()

	if err := s.persistPayment(ctx, payment, params.ActorID, params.IdempotencyKey); err != nil {
		return nil, err
	}
	return payment, nil
}

// replayByKey returns the existing payment for a caller-supplied idempotency
// key, when one exists.
func (s *service) replayByKey(ctx context.Context, actorID uuid.UUID, key *string) (*models.Payment, bool, error) {
	if key == nil || *key == "" {
		return nil, false, nil
	}
	existing, err := s.repo.GetByActorAndKey(ctx, actorID, *key)
	if err == nil {
		return existing, true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check idempotency key")
}

// persistPayment creates the row, falling back to the stored payment when a
// concurrent request with the same idempotency key won the unique index race.
func (s *service) persistPayment(ctx context.Context, payment *models.Payment, actorID uuid.UUID, key *string) error {
	err := s.repo.Create(ctx, payment)
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) && key != nil && *key != "" {
		existing, getErr := s.repo.GetByActorAndKey(ctx, actorID, *key)
		if getErr == nil {
			*payment = *existing
			return nil
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
}

// createQRIntent provisions a gateway intent plus an attached QRPH method and
// returns the attached intent carrying the QR image.
func (s *service) createQRIntent(ctx context.Context, amountCents int64, description string, metadata map[string]any) (*paymongo.PaymentIntent, error) {
	done := s.timeGatewayCall("create_payment_intent")
	intent, err := s.gateway.CreatePaymentIntent(ctx, paymongo.IntentCreateParams{
		AmountCents: amountCents,
		Currency:    "PHP",
		Description: description,
		Metadata:    metadata,
	})
	done()
	if err != nil {
		return nil, err
	}

	done = s.timeGatewayCall("create_payment_method")
	method, err := s.gateway.CreatePaymentMethod(ctx, paymongo.MethodCreateParams{Type: paymongo.PaymentMethodQRPH})
	done()
	if err != nil {
		return nil, err
	}

	done = s.timeGatewayCall("attach_payment_method")
	attached, err := s.gateway.AttachPaymentMethod(ctx, intent.ID, method.ID, "")
	done()
	if err != nil {
		return nil, err
	}
	return attached, nil
}
