package controllers

import (
	"net/http"

	"github.com/merkadoph/merkado-backend/api/middleware"
	"github.com/merkadoph/merkado-backend/api/responses"
	"github.com/merkadoph/merkado-backend/api/validators"
	"github.com/merkadoph/merkado-backend/internal/wallet"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

// GetWallet returns the caller's wallet, creating it on first access.
func GetWallet(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		owned, err := svc.GetOrCreate(r.Context(), actorID, middleware.ActorTypeFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, owned)
	}
}

// ReconcileWallet recomputes a wallet balance from its transaction log and
// reports any drift. Admin surface.
func ReconcileWallet(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID, err := pathUUID(r, "walletID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reconcile(r.Context(), walletID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ListWalletTransactions pages through the caller's ledger, newest first.
func ListWalletTransactions(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
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

		result, err := svc.ListTransactions(r.Context(), wallet.ListParams{
			ActorID:   actorID,
			ActorType: middleware.ActorTypeFromContext(r.Context()),
			Limit:     limit,
			Cursor:    r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
