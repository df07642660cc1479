package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merkadoph/merkado-backend/api/responses"
	"github.com/merkadoph/merkado-backend/api/validators"
	"github.com/merkadoph/merkado-backend/internal/commissions"
	"github.com/merkadoph/merkado-backend/pkg/db/models"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

// ListCommissions returns the calling vendor's commissions, optionally
// filtered by status.
func ListCommissions(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status *enums.CommissionStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			parsed, parseErr := enums.ParseCommissionStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status filter"))
				return
			}
			status = &parsed
		}

		list, err := svc.ListByVendor(r.Context(), vendorID, status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// GetCommission returns one commission owned by the calling vendor.
func GetCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commissionID, err := pathUUID(r, "commissionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		commission, err := svc.Get(r.Context(), commissionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if commission.VendorID != vendorID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found"))
			return
		}
		responses.WriteSuccess(w, commission)
	}
}

type createCommissionRequest struct {
	OrderID     uuid.UUID `json:"order_id" validate:"required"`
	VendorID    uuid.UUID `json:"vendor_id" validate:"required"`
	OrderAmount string    `json:"order_amount" validate:"required"`
	Rate        string    `json:"rate" validate:"required"`
	DueDate     *string   `json:"due_date"`
}

// CreateCommission records a commission obligation against an order. Admin
// surface; regular flows accrue commissions at order settlement.
func CreateCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createCommissionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderAmount, err := decimal.NewFromString(payload.OrderAmount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order amount"))
			return
		}
		rate, err := decimal.NewFromString(payload.Rate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rate"))
			return
		}

		var dueDate *time.Time
		if payload.DueDate != nil {
			parsed, parseErr := time.Parse(time.RFC3339, *payload.DueDate)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid due date"))
				return
			}
			dueDate = &parsed
		}

		commission, err := svc.Create(r.Context(), commissions.CreateParams{
			OrderID:     payload.OrderID,
			VendorID:    payload.VendorID,
			OrderAmount: orderAmount,
			Rate:        rate,
			DueDate:     dueDate,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, commission)
	}
}

// RemitCommission settles one commission from the calling vendor's wallet.
func RemitCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commissionID, err := pathUUID(r, "commissionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		remitted, err := svc.RemitViaWallet(r.Context(), commissionID, vendorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, remitted)
	}
}

type bulkRemitRequest struct {
	CommissionIDs []uuid.UUID `json:"commission_ids" validate:"required,min=1,max=50"`
}

// BulkRemitCommissions settles several commissions sequentially; partial
// failure is reported per item, not as an all-or-nothing error.
func BulkRemitCommissions(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload bulkRemitRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.BulkRemit(r.Context(), vendorID, payload.CommissionIDs)
		if result == nil && err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if result.Failed > 0 {
			status = http.StatusMultiStatus
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

type commissionActionRequest struct {
	Actor  string `json:"actor" validate:"required,max=100"`
	Reason string `json:"reason" validate:"required,max=255"`
}

// WaiveCommission forgives a commission obligation. Admin surface.
func WaiveCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return commissionTransition(svc, logg, svc.Waive)
}

// DisputeCommission marks a commission as contested. Admin surface.
func DisputeCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return commissionTransition(svc, logg, svc.Dispute)
}

func commissionTransition(
	svc commissions.Service,
	logg *logger.Logger,
	apply func(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Commission, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commissionID, err := pathUUID(r, "commissionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload commissionActionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := apply(r.Context(), commissionID,
			validators.SanitizeString(payload.Actor, 100),
			validators.SanitizeString(payload.Reason, 255))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}
