package paymongo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Webhook event types the settlement flows react to.
const (
	EventPaymentPaid     = "payment.paid"
	EventPaymentFailed   = "payment.failed"
	EventPaymentRefunded = "payment.refunded"
)

// WebhookEvent is the decoded envelope of a gateway webhook delivery.
type WebhookEvent struct {
	ID              string
	Type            string
	GatewayIntentID string
	PaymentID       string
	AmountCents     int64
	FailedCode      string
	FailedMsg       string
}

// VerifyWebhookSignature checks the Paymongo-Signature header against the raw
// request payload. The header carries a timestamp plus live and test HMACs in
// the form "t=<ts>,te=<sig>,li=<sig>"; the signed message is "<ts>.<payload>".
func (c *Client) VerifyWebhookSignature(payload []byte, header string) bool {
	timestamp := ""
	signatures := make([]string, 0, 2)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || value == "" {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "te", "li":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return true
		}
	}
	return false
}

// ParseWebhookEvent decodes a verified webhook payload into the fields the
// payment lifecycle consumes.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var envelope struct {
		Data struct {
			ID         string `json:"id"`
			Attributes struct {
				Type string `json:"type"`
				Data struct {
					ID         string `json:"id"`
					Attributes struct {
						PaymentIntentID string `json:"payment_intent_id"`
						Amount          int64  `json:"amount"`
						FailedCode      string `json:"failed_code"`
						FailedMessage   string `json:"failed_message"`
					} `json:"attributes"`
				} `json:"data"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}

	inner := envelope.Data.Attributes.Data
	return &WebhookEvent{
		ID:              envelope.Data.ID,
		Type:            envelope.Data.Attributes.Type,
		GatewayIntentID: inner.Attributes.PaymentIntentID,
		PaymentID:       inner.ID,
		AmountCents:     inner.Attributes.Amount,
		FailedCode:      inner.Attributes.FailedCode,
		FailedMsg:       inner.Attributes.FailedMessage,
	}, nil
}
