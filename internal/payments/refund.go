package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/merkadoph/merkado-backend/pkg/db"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
)

// RefundParams reverses part or all of a succeeded gateway payment.
type RefundParams struct {
	PaymentID   uuid.UUID
	AmountCents int64
	Reason      string
}

func (s *service) CreateRefund(ctx context.Context, params RefundParams) (*models.Payment, error) {
	if params.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if params.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	original, err := s.GetPayment(ctx, params.PaymentID)
	if err != nil {
		return nil, err
	}
	if original.Type == enums.PaymentTypeRefund {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot refund a refund")
	}
	if original.Status != enums.PaymentStatusSucceeded && original.Status != enums.PaymentStatusPartiallyRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only settled payments can be refunded")
	}
	if params.AmountCents > original.AmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds the original amount")
	}
	if original.GatewayIntentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway intent to refund")
	}

	// The refund API wants the underlying gateway payment, not the intent.
	done := s.timeGatewayCall("retrieve_payment_intent")
	intent, err := s.gateway.RetrievePaymentIntent(ctx, *original.GatewayIntentID)
	done()
	if err != nil {
		return nil, err
	}
	if intent.PaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway intent has no settled payment")
	}

	done = s.timeGatewayCall("create_refund")
	refund, err := s.gateway.CreateRefund(ctx, paymongo.RefundCreateParams{
		GatewayPaymentID: intent.PaymentID,
		AmountCents:      params.AmountCents,
		Reason:           params.Reason,
		Metadata:         map[string]any{"payment_id": original.ID.String()},
	})
	done()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &models.Payment{
		ID:          uuid.New(),
		ActorID:     original.ActorID,
		ActorType:   original.ActorType,
		Type:        enums.PaymentTypeRefund,
		Provider:    original.Provider,
		AmountCents: params.AmountCents,
		Currency:    original.Currency,
		Status:      enums.PaymentStatusSucceeded,
		IsFinal:     true,
		PaidAt:      &now,
		OrderID:     original.OrderID,
	}
	if params.Reason != "" {
		row.Description = &params.Reason
	}
	metadata, err := json.Marshal(map[string]string{"gateway_refund_id": refund.ID})
	if err == nil {
		row.Metadata = metadata
	}
	row.RecomputeNet()

	if err := s.repo.Create(ctx, row); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund is already recorded for this order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund")
	}

	target := enums.PaymentStatusRefunded
	if params.AmountCents < original.AmountCents {
		target = enums.PaymentStatusPartiallyRefunded
	}
	if _, err := s.repo.TransitionStatus(ctx, original.ID, original.Status, target, nil); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark original refunded")
	}
	s.metrics.IncPaymentTransition(original.Status.String(), target.String())

	s.logger.Info(s.logger.WithPaymentID(ctx, original.ID.String()), "refund recorded")
	return row, nil
}
