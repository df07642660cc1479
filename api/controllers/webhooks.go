package controllers

import (
	"io"
	"net/http"

	"github.com/merkadoph/merkado-backend/api/responses"
	"github.com/merkadoph/merkado-backend/internal/payments"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
)

const paymongoSignatureHeader = "Paymongo-Signature"

// signatureVerifier is the gateway surface the webhook needs.
type signatureVerifier interface {
	VerifyWebhookSignature(payload []byte, header string) bool
}

// PayMongoWebhook ingests gateway events. The signature is verified before
// anything else touches the payload; unknown event types are acknowledged so
// the gateway stops retrying them.
func PayMongoWebhook(verifier signatureVerifier, svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read webhook payload"))
			return
		}

		if !verifier.VerifyWebhookSignature(payload, r.Header.Get(paymongoSignatureHeader)) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid webhook signature"))
			return
		}

		event, err := paymongo.ParseWebhookEvent(payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse webhook event"))
			return
		}

		if err := svc.HandleWebhookEvent(r.Context(), event); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "received"})
	}
}
