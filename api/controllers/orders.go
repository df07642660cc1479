package controllers

import (
	"net/http"

	"github.com/merkadoph/merkado-backend/api/responses"
	"github.com/merkadoph/merkado-backend/internal/orders"
	"github.com/merkadoph/merkado-backend/internal/payments"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

// ListPaymentOrders returns the orders materialized from one of the caller's
// payments.
func ListPaymentOrders(paymentsSvc payments.Service, ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
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

		payment, err := paymentsSvc.GetPayment(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payment.ActorID != actorID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}

		list, err := ordersSvc.ListByPaymentID(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
