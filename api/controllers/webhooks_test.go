package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merkadoph/merkado-backend/internal/payments"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
)

type fakeVerifier struct {
	valid bool
}

func (f *fakeVerifier) VerifyWebhookSignature(payload []byte, header string) bool {
	return f.valid
}

type fakePaymentsService struct {
	payments.Service
	handled []*paymongo.WebhookEvent
}

func (f *fakePaymentsService) HandleWebhookEvent(ctx context.Context, event *paymongo.WebhookEvent) error {
	f.handled = append(f.handled, event)
	return nil
}

const webhookPayload = `{
  "data": {
    "id": "evt_1",
    "attributes": {
      "type": "payment.paid",
      "data": {
        "id": "pay_1",
        "attributes": {
          "payment_intent_id": "pi_123"
        }
      }
    }
  }
}`

func postWebhook(t *testing.T, handler http.HandlerFunc, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymongo", strings.NewReader(payload))
	if signature != "" {
		req.Header.Set("Paymongo-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPayMongoWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakePaymentsService{}
	handler := PayMongoWebhook(&fakeVerifier{valid: false}, svc, nil)

	rec := postWebhook(t, handler, webhookPayload, "t=1,te=bad,li=bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.handled, "unverified payloads must never reach the service")
}

func TestPayMongoWebhookDispatchesVerifiedEvent(t *testing.T) {
	svc := &fakePaymentsService{}
	handler := PayMongoWebhook(&fakeVerifier{valid: true}, svc, nil)

	rec := postWebhook(t, handler, webhookPayload, "t=1,te=sig,li=sig")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.handled, 1)
	assert.Equal(t, paymongo.EventPaymentPaid, svc.handled[0].Type)
	assert.Equal(t, "pi_123", svc.handled[0].GatewayIntentID)
}

func TestPayMongoWebhookRejectsMalformedPayload(t *testing.T) {
	svc := &fakePaymentsService{}
	handler := PayMongoWebhook(&fakeVerifier{valid: true}, svc, nil)

	rec := postWebhook(t, handler, `not json`, "t=1,te=sig,li=sig")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.handled)
}
