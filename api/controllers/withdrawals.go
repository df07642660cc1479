package controllers

import (
	"net/http"

	"github.com/merkadoph/merkado-backend/api/responses"
	"github.com/merkadoph/merkado-backend/api/validators"
	"github.com/merkadoph/merkado-backend/internal/withdrawals"
	"github.com/merkadoph/merkado-backend/pkg/enums"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

type withdrawalRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,min=1"`
	Method      string `json:"method" validate:"required"`
	Account     string `json:"account" validate:"required,max=100"`
	AccountName string `json:"account_name" validate:"required,max=200"`
	NotifyEmail string `json:"notify_email" validate:"omitempty,email"`
}

// CreateWithdrawal requests a payout from the calling vendor's wallet.
func CreateWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload withdrawalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePayoutMethod(payload.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout method"))
			return
		}

		withdrawal, err := svc.Create(r.Context(), withdrawals.CreateParams{
			VendorID:       vendorID,
			AmountCents:    payload.AmountCents,
			Method:         method,
			Account:        validators.SanitizeString(payload.Account, 100),
			AccountName:    validators.SanitizeString(payload.AccountName, 200),
			NotifyEmail:    validators.SanitizeString(payload.NotifyEmail, 254),
			IdempotencyKey: idempotencyKeyFromHeader(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, withdrawal)
	}
}

// ListWithdrawals returns the calling vendor's withdrawal history.
func ListWithdrawals(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
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

		list, err := svc.ListByVendor(r.Context(), vendorID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// GetWithdrawal returns one withdrawal owned by the calling vendor.
func GetWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawalID, err := pathUUID(r, "withdrawalID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		withdrawal, err := svc.Get(r.Context(), withdrawalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if withdrawal.ActorID != vendorID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found"))
			return
		}
		responses.WriteSuccess(w, withdrawal)
	}
}

// CancelWithdrawal lets the owning vendor withdraw a pending request; the
// held amount returns to the wallet.
func CancelWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawalID, err := pathUUID(r, "withdrawalID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cancelled, err := svc.Cancel(r.Context(), withdrawalID, vendorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelled)
	}
}

// ApproveWithdrawal finalizes a pending withdrawal. Admin surface.
func ApproveWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withdrawalID, err := pathUUID(r, "withdrawalID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		approved, err := svc.Approve(r.Context(), withdrawalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, approved)
	}
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// RejectWithdrawal declines a pending withdrawal and restores the wallet
// balance. Admin surface.
func RejectWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withdrawalID, err := pathUUID(r, "withdrawalID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload rejectWithdrawalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rejected, err := svc.Reject(r.Context(), withdrawalID, validators.SanitizeString(payload.Reason, 255))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rejected)
	}
}
