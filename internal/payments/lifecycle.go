package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/merkadoph/merkado-backend/internal/orders"
	"github.com/merkadoph/merkado-backend/internal/wallet"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
)

// mapGatewayStatus translates gateway vocabulary into the internal enum.
func mapGatewayStatus(gatewayStatus string) (enums.PaymentStatus, bool) {
	switch gatewayStatus {
	case paymongo.IntentStatusAwaitingPaymentMethod, paymongo.IntentStatusAwaitingNextAction:
		return enums.PaymentStatusAwaitingPayment, true
	case paymongo.IntentStatusProcessing:
		return enums.PaymentStatusProcessing, true
	case paymongo.IntentStatusSucceeded:
		return enums.PaymentStatusSucceeded, true
	case paymongo.IntentStatusCancelled:
		return enums.PaymentStatusCancelled, true
	case "failed", "payment_failed":
		return enums.PaymentStatusFailed, true
	}
	return "", false
}

// ApplyGatewayStatus converges the stored payment onto the gateway-reported
// status. Both the webhook and the poll path funnel through here; an equal or
// already-final status is a no-op, so the two paths cannot double-apply.
func (s *service) ApplyGatewayStatus(ctx context.Context, paymentID uuid.UUID, gatewayStatus string, failure *GatewayFailure) (*models.Payment, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	ctx = s.logger.WithPaymentID(ctx, paymentID.String())

	target, known := mapGatewayStatus(gatewayStatus)
	if !known {
		s.logger.Warn(s.logger.WithField(ctx, "gateway_status", gatewayStatus), "unknown gateway status ignored")
		return payment, nil
	}
	if payment.Status == target {
		return payment, nil
	}
	if payment.IsFinal {
		s.logger.Info(s.logger.WithFields(ctx, map[string]any{
			"status":         payment.Status.String(),
			"gateway_status": gatewayStatus,
		}), "final payment ignores gateway status")
		return payment, nil
	}

	updates := map[string]any{}
	switch target {
	case enums.PaymentStatusSucceeded:
		now := time.Now().UTC()
		updates["paid_at"] = now
		updates["is_final"] = true
	case enums.PaymentStatusFailed:
		updates["is_final"] = true
		if failure != nil {
			reason := failure.Message
			if failure.Code != "" {
				reason = fmt.Sprintf("%s: %s", failure.Code, failure.Message)
			}
			updates["failure_reason"] = reason
		}
	case enums.PaymentStatusCancelled:
		updates["is_final"] = true
	}

	applied, err := s.repo.TransitionStatus(ctx, paymentID, payment.Status, target, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transition payment status")
	}
	if !applied {
		// A concurrent webhook or poll already moved the row; re-read and
		// treat this call as the no-op side of the race.
		return s.GetPayment(ctx, paymentID)
	}

	s.metrics.IncPaymentTransition(payment.Status.String(), target.String())
	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"from": payment.Status.String(),
		"to":   target.String(),
	}), "payment status applied")

	updated, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if target == enums.PaymentStatusSucceeded {
		s.settle(ctx, updated)
		return s.GetPayment(ctx, paymentID)
	}
	return updated, nil
}

// settle runs the side effects of a succeeded payment. Failures are logged,
// never surfaced to the webhook response; the poll and recovery paths retry.
func (s *service) settle(ctx context.Context, payment *models.Payment) {
	switch payment.Type {
	case enums.PaymentTypeCheckout:
		if payment.OrderID != nil {
			return
		}
		if _, err := s.materializer.Materialize(ctx, payment.ID); err != nil {
			s.logger.Error(ctx, "order materialization after settlement failed", err)
		}
	case enums.PaymentTypeCashIn:
		if err := s.creditCashIn(ctx, payment); err != nil {
			s.logger.Error(ctx, "wallet credit after cash in failed", err)
		}
	}
}

// creditCashIn credits the net amount exactly once, flipping the credited
// flag and writing the ledger entry in the same transaction.
func (s *service) creditCashIn(ctx context.Context, payment *models.Payment) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		flipped, err := s.repo.WithTx(tx).MarkWalletCredited(ctx, payment.ID)
		if err != nil {
			return err
		}
		if !flipped {
			return nil
		}

		net := decimal.NewFromInt(payment.NetAmountCents).Div(decimal.NewFromInt(100))
		_, err = s.wallets.CreditTx(ctx, tx, wallet.MovementParams{
			ActorID:       payment.ActorID,
			ActorType:     payment.ActorType,
			Amount:        net,
			Reference:     "cash in",
			ReferenceType: enums.ReferenceTypePayment,
			ReferenceID:   payment.ID,
		})
		return err
	})
}

// SyncPaymentStatus polls the gateway and converges the stored status.
func (s *service) SyncPaymentStatus(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.GatewayIntentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway intent to sync")
	}
	if payment.IsFinal {
		return payment, nil
	}

	done := s.timeGatewayCall("retrieve_payment_intent")
	intent, err := s.gateway.RetrievePaymentIntent(ctx, *payment.GatewayIntentID)
	done()
	if err != nil {
		return nil, err
	}

	var failure *GatewayFailure
	if intent.FailedCode != "" || intent.FailedMsg != "" {
		failure = &GatewayFailure{Code: intent.FailedCode, Message: intent.FailedMsg}
	}
	status := intent.Status
	if failure != nil && status == paymongo.IntentStatusAwaitingPaymentMethod {
		// The gateway parks failed intents back in awaiting_payment_method
		// with the error attached; surface that as a failure.
		status = "failed"
	}
	return s.ApplyGatewayStatus(ctx, paymentID, status, failure)
}

// HandleWebhookEvent applies a verified gateway webhook delivery.
func (s *service) HandleWebhookEvent(ctx context.Context, event *paymongo.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event is required")
	}
	if event.GatewayIntentID == "" {
		s.logger.Warn(s.logger.WithField(ctx, "event_type", event.Type), "webhook event without intent id ignored")
		return nil
	}

	payment, err := s.repo.GetByGatewayIntentID(ctx, event.GatewayIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn(s.logger.WithField(ctx, "gateway_intent_id", event.GatewayIntentID), "webhook for unknown payment ignored")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment for webhook")
	}

	switch event.Type {
	case paymongo.EventPaymentPaid:
		_, err = s.ApplyGatewayStatus(ctx, payment.ID, paymongo.IntentStatusSucceeded, nil)
	case paymongo.EventPaymentFailed:
		_, err = s.ApplyGatewayStatus(ctx, payment.ID, "failed", &GatewayFailure{Code: event.FailedCode, Message: event.FailedMsg})
	case paymongo.EventPaymentRefunded:
		err = s.applyGatewayRefund(ctx, payment, event.AmountCents)
	default:
		s.logger.Info(s.logger.WithField(ctx, "event_type", event.Type), "unhandled webhook event type")
		return nil
	}
	return err
}

// applyGatewayRefund reconciles a refund the gateway initiated on its own.
// A missing or full amount marks the payment refunded; a smaller amount marks
// it partially refunded.
func (s *service) applyGatewayRefund(ctx context.Context, payment *models.Payment, amountCents int64) error {
	target := enums.PaymentStatusRefunded
	if amountCents > 0 && amountCents < payment.AmountCents {
		target = enums.PaymentStatusPartiallyRefunded
	}
	if payment.Status == target || payment.Status == enums.PaymentStatusRefunded {
		return nil
	}
	if payment.Status != enums.PaymentStatusSucceeded && payment.Status != enums.PaymentStatusPartiallyRefunded {
		s.logger.Warn(s.logger.WithPaymentID(ctx, payment.ID.String()), "refund webhook for unsettled payment ignored")
		return nil
	}

	applied, err := s.repo.TransitionStatus(ctx, payment.ID, payment.Status, target, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payment refunded")
	}
	if applied {
		s.metrics.IncPaymentTransition(payment.Status.String(), target.String())
		s.logger.Info(s.logger.WithPaymentID(ctx, payment.ID.String()), "gateway refund reconciled")
	}
	return nil
}

// RecoverOrders re-invokes the materializer for a succeeded payment whose
// orders did not fully materialize.
func (s *service) RecoverOrders(ctx context.Context, paymentID uuid.UUID) (*orders.MaterializeResult, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment status %q has no orders to recover", payment.Status))
	}
	return s.materializer.Materialize(ctx, paymentID)
}
