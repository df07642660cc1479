package paymongo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/merkadoph/merkado-backend/pkg/config"
	pkgerrors "github.com/merkadoph/merkado-backend/pkg/errors"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

const defaultTimeout = 15 * time.Second

var (
	errSecretKeyRequired     = errors.New("paymongo secret key is required")
	errWebhookSecretRequired = errors.New("paymongo webhook secret is required")
	errLoggerRequired        = errors.New("paymongo logger is required")
)

// Gateway is the surface the settlement services consume. The concrete Client
// talks to PayMongo; tests substitute fakes.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, params IntentCreateParams) (*PaymentIntent, error)
	CreatePaymentMethod(ctx context.Context, params MethodCreateParams) (*PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, intentID, methodID, returnURL string) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, params RefundCreateParams) (*Refund, error)
	VerifyWebhookSignature(payload []byte, header string) bool
}

// Client wraps the PayMongo REST API with centralized auth, timeouts, logging,
// and error mapping.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	secretKey     string
	webhookSecret string
	logger        *logger.Logger
}

// NewClient validates credentials and builds the gateway wrapper. Every call
// through the returned client is bounded by the configured timeout.
func NewClient(ctx context.Context, cfg config.PayMongoConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.paymongo.com/v1"
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		logger:        logg,
	}

	logg.Info(ctx, "paymongo client initialized")
	return c, nil
}

// NewIdempotencyKey returns a unique key for gateway operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "mk"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

func (c *Client) CreatePaymentIntent(ctx context.Context, params IntentCreateParams) (*PaymentIntent, error) {
	c.log(ctx, "request", "create_payment_intent", map[string]any{
		"amount":   params.AmountCents,
		"currency": params.Currency,
	})

	var resp intentResponse
	if err := c.do(ctx, http.MethodPost, "/payment_intents", params.toRequest(), &resp); err != nil {
		c.log(ctx, "error", "create_payment_intent", map[string]any{"error": err.Error()})
		return nil, err
	}

	intent := resp.toPaymentIntent()
	c.log(ctx, "response", "create_payment_intent", map[string]any{
		"intent_id": intent.ID,
		"status":    intent.Status,
	})
	return intent, nil
}

func (c *Client) CreatePaymentMethod(ctx context.Context, params MethodCreateParams) (*PaymentMethod, error) {
	c.log(ctx, "request", "create_payment_method", map[string]any{"type": params.Type})

	var resp methodResponse
	if err := c.do(ctx, http.MethodPost, "/payment_methods", params.toRequest(), &resp); err != nil {
		c.log(ctx, "error", "create_payment_method", map[string]any{"error": err.Error()})
		return nil, err
	}

	method := &PaymentMethod{ID: resp.Data.ID, Type: resp.Data.Attributes.Type}
	c.log(ctx, "response", "create_payment_method", map[string]any{"method_id": method.ID})
	return method, nil
}

func (c *Client) AttachPaymentMethod(ctx context.Context, intentID, methodID, returnURL string) (*PaymentIntent, error) {
	if intentID == "" || methodID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id and method id are required")
	}
	c.log(ctx, "request", "attach_payment_method", map[string]any{
		"intent_id": intentID,
		"method_id": methodID,
	})

	body := map[string]any{
		"data": map[string]any{
			"attributes": map[string]any{
				"payment_method": methodID,
				"return_url":     returnURL,
			},
		},
	}
	var resp intentResponse
	path := fmt.Sprintf("/payment_intents/%s/attach", intentID)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		c.log(ctx, "error", "attach_payment_method", map[string]any{"error": err.Error()})
		return nil, err
	}

	intent := resp.toPaymentIntent()
	c.log(ctx, "response", "attach_payment_method", map[string]any{
		"intent_id": intent.ID,
		"status":    intent.Status,
	})
	return intent, nil
}

func (c *Client) RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}

	var resp intentResponse
	if err := c.do(ctx, http.MethodGet, "/payment_intents/"+intentID, nil, &resp); err != nil {
		c.log(ctx, "error", "retrieve_payment_intent", map[string]any{"error": err.Error()})
		return nil, err
	}
	return resp.toPaymentIntent(), nil
}

func (c *Client) CreateRefund(ctx context.Context, params RefundCreateParams) (*Refund, error) {
	c.log(ctx, "request", "create_refund", map[string]any{
		"payment_id": params.GatewayPaymentID,
		"amount":     params.AmountCents,
	})

	var resp refundResponse
	if err := c.do(ctx, http.MethodPost, "/refunds", params.toRequest(), &resp); err != nil {
		c.log(ctx, "error", "create_refund", map[string]any{"error": err.Error()})
		return nil, err
	}

	refund := &Refund{
		ID:          resp.Data.ID,
		Status:      resp.Data.Attributes.Status,
		AmountCents: resp.Data.Attributes.Amount,
	}
	c.log(ctx, "response", "create_refund", map[string]any{"refund_id": refund.ID})
	return refund, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Authorization", "Basic "+basicAuth(c.secretKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unreachable")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read gateway response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gatewayError(resp.StatusCode, payload)
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	return nil
}

func gatewayError(status int, payload []byte) error {
	var parsed struct {
		Errors []struct {
			Code   string `json:"code"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	detail := ""
	if err := json.Unmarshal(payload, &parsed); err == nil && len(parsed.Errors) > 0 {
		detail = parsed.Errors[0].Detail
	}
	msg := fmt.Sprintf("gateway returned %d", status)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return pkgerrors.New(pkgerrors.CodeDependency, msg)
}

func basicAuth(secretKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(secretKey + ":"))
}

func (c *Client) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	merged := map[string]any{"gateway_op": operation, "phase": phase}
	for k, v := range fields {
		merged[k] = v
	}
	c.logger.Info(c.logger.WithFields(ctx, merged), "paymongo "+operation)
}
