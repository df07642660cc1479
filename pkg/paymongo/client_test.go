package paymongo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/merkadoph/merkado-backend/pkg/config"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), config.PayMongoConfig{
		SecretKey:     "sk_test_abc",
		WebhookSecret: "whsk_test_abc",
		BaseURL:       server.URL,
		Timeout:       2 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresSecretKey(t *testing.T) {
	_, err := NewClient(context.Background(), config.PayMongoConfig{
		WebhookSecret: "whsk",
	}, testLogger())
	if err == nil {
		t.Fatal("expected error for missing secret key")
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"data":{"id":"pi_123","attributes":{"amount":10000,"currency":"PHP","status":"awaiting_payment_method"}}}`)
	})

	intent, err := client.CreatePaymentIntent(context.Background(), IntentCreateParams{
		AmountCents: 10000,
		Description: "cash in",
		Metadata:    map[string]any{"actor_id": "u1"},
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}
	if intent.ID != "pi_123" {
		t.Errorf("intent id = %q, want pi_123", intent.ID)
	}
	if intent.Status != IntentStatusAwaitingPaymentMethod {
		t.Errorf("status = %q", intent.Status)
	}
	if gotPath != "/payment_intents" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("authorization = %q, want basic auth", gotAuth)
	}

	attrs := gotBody["data"].(map[string]any)["attributes"].(map[string]any)
	if attrs["currency"] != "PHP" {
		t.Errorf("currency = %v, want PHP default", attrs["currency"])
	}
	if attrs["amount"] != float64(10000) {
		t.Errorf("amount = %v", attrs["amount"])
	}
	metadata, ok := attrs["metadata"].(map[string]any)
	if !ok || metadata["actor_id"] != "u1" {
		t.Errorf("metadata = %v", attrs["metadata"])
	}
}

func TestAttachPaymentMethodExtractsQR(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment_intents/pi_123/attach" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":{"id":"pi_123","attributes":{"amount":10000,"status":"awaiting_next_action","next_action":{"type":"consume_qr","code":{"image_url":"https://example.test/qr.png"}}}}}`)
	})

	intent, err := client.AttachPaymentMethod(context.Background(), "pi_123", "pm_456", "")
	if err != nil {
		t.Fatalf("AttachPaymentMethod: %v", err)
	}
	if intent.QRImageURL != "https://example.test/qr.png" {
		t.Errorf("qr image url = %q", intent.QRImageURL)
	}
}

func TestRetrievePaymentIntentFailureDetails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"id":"pi_123","attributes":{"amount":10000,"status":"awaiting_payment_method","payments":[{"id":"pay_9"}],"last_payment_error":{"code":"insufficient_funds","detail":"The account has insufficient funds."}}}}`)
	})

	intent, err := client.RetrievePaymentIntent(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("RetrievePaymentIntent: %v", err)
	}
	if intent.PaymentID != "pay_9" {
		t.Errorf("payment id = %q", intent.PaymentID)
	}
	if intent.FailedCode != "insufficient_funds" {
		t.Errorf("failed code = %q", intent.FailedCode)
	}
}

func TestGatewayErrorMapsToDependency(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"errors":[{"code":"payment_failed","detail":"The payment could not be completed."}]}`)
	})

	_, err := client.RetrievePaymentIntent(context.Background(), "pi_123")
	if err == nil {
		t.Fatal("expected error")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Errorf("error code mismatch: %v", err)
	}
	if !strings.Contains(err.Error(), "could not be completed") {
		t.Errorf("error detail missing: %v", err)
	}
}

func signWebhook(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := []byte(`{"data":{"id":"evt_1"}}`)
	sig := signWebhook("whsk_test_abc", "1700000000", payload)

	header := fmt.Sprintf("t=1700000000,te=%s,li=%s", sig, sig)
	if !client.VerifyWebhookSignature(payload, header) {
		t.Error("expected valid signature to verify")
	}
	if client.VerifyWebhookSignature([]byte("tampered"), header) {
		t.Error("expected tampered payload to fail")
	}
	if client.VerifyWebhookSignature(payload, "t=1700000000,te=deadbeef") {
		t.Error("expected wrong signature to fail")
	}
	if client.VerifyWebhookSignature(payload, "") {
		t.Error("expected empty header to fail")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	payload := []byte(`{"data":{"id":"evt_1","attributes":{"type":"payment.failed","data":{"id":"pay_9","attributes":{"payment_intent_id":"pi_123","failed_code":"insufficient_funds","failed_message":"The account has insufficient funds."}}}}}`)

	event, err := ParseWebhookEvent(payload)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Type != EventPaymentFailed {
		t.Errorf("type = %q", event.Type)
	}
	if event.GatewayIntentID != "pi_123" {
		t.Errorf("intent id = %q", event.GatewayIntentID)
	}
	if event.FailedCode != "insufficient_funds" {
		t.Errorf("failed code = %q", event.FailedCode)
	}
}
