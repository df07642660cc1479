package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/merkadoph/merkado-backend/api/middleware"
	"github.com/merkadoph/merkado-backend/api/responses"
	"github.com/merkadoph/merkado-backend/api/validators"
	"github.com/merkadoph/merkado-backend/internal/payments"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

type checkoutItemRequest struct {
	ProductID      uuid.UUID `json:"product_id" validate:"required"`
	VendorID       uuid.UUID `json:"vendor_id" validate:"required"`
	Name           string    `json:"name" validate:"required,max=200"`
	Qty            int       `json:"qty" validate:"required,min=1"`
	UnitPriceCents int64     `json:"unit_price_cents" validate:"min=0"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string                `json:"shipping_address" validate:"max=500"`
	Description     string                `json:"description" validate:"max=255"`
}

// CreateCheckoutPayment starts a pay-first checkout for the calling buyer.
func CreateCheckoutPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]models.CheckoutItem, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, models.CheckoutItem{
				ProductID:      item.ProductID,
				VendorID:       item.VendorID,
				Name:           validators.SanitizeString(item.Name, 200),
				Qty:            item.Qty,
				UnitPriceCents: item.UnitPriceCents,
			})
		}

		payment, err := svc.CreateCheckoutPayment(r.Context(), payments.CheckoutPaymentParams{
			BuyerID:         buyerID,
			Items:           items,
			ShippingAddress: validators.SanitizeString(payload.ShippingAddress, 500),
			Description:     validators.SanitizeString(payload.Description, 255),
			IdempotencyKey:  idempotencyKeyFromHeader(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payment)
	}
}

type cashInRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,min=1"`
}

// CreateCashIn tops up the caller's wallet through a QRPH charge.
func CreateCashIn(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cashInRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.CreateCashIn(r.Context(), payments.CashInParams{
			ActorID:        actorID,
			ActorType:      middleware.ActorTypeFromContext(r.Context()),
			AmountCents:    payload.AmountCents,
			IdempotencyKey: idempotencyKeyFromHeader(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payment)
	}
}

type subscriptionPaymentRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,min=1"`
	Description string `json:"description" validate:"max=255"`
}

// CreateSubscriptionPayment creates a QRPH payment for a subscription charge.
func CreateSubscriptionPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload subscriptionPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.CreateSubscriptionQRPHPayment(r.Context(), payments.SubscriptionPaymentParams{
			ActorID:        actorID,
			ActorType:      middleware.ActorTypeFromContext(r.Context()),
			AmountCents:    payload.AmountCents,
			Description:    validators.SanitizeString(payload.Description, 255),
			IdempotencyKey: idempotencyKeyFromHeader(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payment)
	}
}

type qrphPaymentRequest struct {
	OrderID     uuid.UUID `json:"order_id" validate:"required"`
	AmountCents int64     `json:"amount_cents" validate:"required,min=1"`
	Description string    `json:"description" validate:"max=255"`
}

// CreateQRPHPayment creates a QRPH payment against an existing order.
func CreateQRPHPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload qrphPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.CreateQRPHPayment(r.Context(), payments.QRPHPaymentParams{
			ActorID:     actorID,
			ActorType:   middleware.ActorTypeFromContext(r.Context()),
			OrderID:     payload.OrderID,
			AmountCents: payload.AmountCents,
			Description: validators.SanitizeString(payload.Description, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payment)
	}
}

// GetPayment returns one payment owned by the caller.
func GetPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.GetPayment(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payment.ActorID != actorID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// ListPayments returns the caller's recent payments.
func ListPayments(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListByActor(r.Context(), actorID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// SyncPaymentStatus re-polls the gateway for a payment that has not finalized.
func SyncPaymentStatus(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.GetPayment(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payment.ActorID != actorID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}

		synced, err := svc.SyncPaymentStatus(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, synced)
	}
}

type refundRequest struct {
	PaymentID   uuid.UUID `json:"payment_id" validate:"required"`
	AmountCents int64     `json:"amount_cents" validate:"required,min=1"`
	Reason      string    `json:"reason" validate:"required,max=255"`
}

// CreateRefund reverses part or all of a succeeded payment. Admin surface.
func CreateRefund(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.CreateRefund(r.Context(), payments.RefundParams{
			PaymentID:   payload.PaymentID,
			AmountCents: payload.AmountCents,
			Reason:      validators.SanitizeString(payload.Reason, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, refund)
	}
}

// RecoverOrders re-runs order materialization for a succeeded payment whose
// orders did not fully materialize. Admin surface.
func RecoverOrders(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RecoverOrders(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func requireActor(r *http.Request) (uuid.UUID, error) {
	actorID := middleware.ActorIDFromContext(r.Context())
	if actorID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "caller identity is required")
	}
	return actorID, nil
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid identifier in path").WithDetails(map[string]any{"param": param})
	}
	return id, nil
}

func idempotencyKeyFromHeader(r *http.Request) *string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return nil
	}
	return &key
}
