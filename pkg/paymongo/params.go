package paymongo

import (
	"github.com/merkadoph/merkado-backend/pkg/types"
)

// Intent statuses reported by the gateway.
const (
	IntentStatusAwaitingPaymentMethod = "awaiting_payment_method"
	IntentStatusAwaitingNextAction    = "awaiting_next_action"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCancelled             = "cancelled"
)

// PaymentMethodQRPH is the only method type the settlement flows create today.
const PaymentMethodQRPH = "qrph"

// IntentCreateParams describes a new payment intent. Metadata is flattened to
// string pairs before transmission.
type IntentCreateParams struct {
	AmountCents int64
	Currency    string
	Description string
	Methods     []string
	Metadata    map[string]any
}

func (p IntentCreateParams) toRequest() map[string]any {
	currency := p.Currency
	if currency == "" {
		currency = "PHP"
	}
	methods := p.Methods
	if len(methods) == 0 {
		methods = []string{PaymentMethodQRPH}
	}

	attributes := map[string]any{
		"amount":                 p.AmountCents,
		"currency":               currency,
		"payment_method_allowed": methods,
		"capture_type":           "automatic",
	}
	if p.Description != "" {
		attributes["description"] = p.Description
	}
	if len(p.Metadata) > 0 {
		attributes["metadata"] = types.FlattenMetadata(p.Metadata)
	}

	return map[string]any{"data": map[string]any{"attributes": attributes}}
}

// MethodCreateParams describes a new payment method resource.
type MethodCreateParams struct {
	Type     string
	Metadata map[string]any
}

func (p MethodCreateParams) toRequest() map[string]any {
	methodType := p.Type
	if methodType == "" {
		methodType = PaymentMethodQRPH
	}

	attributes := map[string]any{"type": methodType}
	if len(p.Metadata) > 0 {
		attributes["metadata"] = types.FlattenMetadata(p.Metadata)
	}

	return map[string]any{"data": map[string]any{"attributes": attributes}}
}

// RefundCreateParams describes a refund against a settled gateway payment.
type RefundCreateParams struct {
	GatewayPaymentID string
	AmountCents      int64
	Reason           string
	Metadata         map[string]any
}

func (p RefundCreateParams) toRequest() map[string]any {
	reason := p.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}

	attributes := map[string]any{
		"payment_id": p.GatewayPaymentID,
		"amount":     p.AmountCents,
		"reason":     reason,
	}
	if len(p.Metadata) > 0 {
		attributes["metadata"] = types.FlattenMetadata(p.Metadata)
	}

	return map[string]any{"data": map[string]any{"attributes": attributes}}
}

// PaymentIntent is the normalized view of a gateway intent that the settlement
// services consume.
type PaymentIntent struct {
	ID          string
	Status      string
	AmountCents int64
	Currency    string
	QRImageURL  string
	PaymentID   string
	FailedCode  string
	FailedMsg   string
}

// PaymentMethod is the normalized view of a gateway payment method.
type PaymentMethod struct {
	ID   string
	Type string
}

// Refund is the normalized view of a gateway refund.
type Refund struct {
	ID          string
	Status      string
	AmountCents int64
}

type intentResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Amount     int64  `json:"amount"`
			Currency   string `json:"currency"`
			Status     string `json:"status"`
			NextAction *struct {
				Type string `json:"type"`
				Code struct {
					ImageURL string `json:"image_url"`
				} `json:"code"`
			} `json:"next_action"`
			Payments []struct {
				ID string `json:"id"`
			} `json:"payments"`
			LastPaymentError *struct {
				Code   string `json:"code"`
				Detail string `json:"detail"`
			} `json:"last_payment_error"`
		} `json:"attributes"`
	} `json:"data"`
}

func (r intentResponse) toPaymentIntent() *PaymentIntent {
	attrs := r.Data.Attributes
	intent := &PaymentIntent{
		ID:          r.Data.ID,
		Status:      attrs.Status,
		AmountCents: attrs.Amount,
		Currency:    attrs.Currency,
	}
	if attrs.NextAction != nil && attrs.NextAction.Type == "consume_qr" {
		intent.QRImageURL = attrs.NextAction.Code.ImageURL
	}
	if len(attrs.Payments) > 0 {
		intent.PaymentID = attrs.Payments[len(attrs.Payments)-1].ID
	}
	if attrs.LastPaymentError != nil {
		intent.FailedCode = attrs.LastPaymentError.Code
		intent.FailedMsg = attrs.LastPaymentError.Detail
	}
	return intent
}

type methodResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Type string `json:"type"`
		} `json:"attributes"`
	} `json:"data"`
}

type refundResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status string `json:"status"`
			Amount int64  `json:"amount"`
		} `json:"attributes"`
	} `json:"data"`
}
