package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/merkadoph/merkado-backend/pkg/config"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

var errNoProviders = errors.New("mailer has no configured providers")

// Message is a transactional email. HTMLBody is optional; TextBody is always
// sent.
type Message struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers a message through one transport. Implementations return an
// error to let the mailer fall through to the next provider.
type Sender interface {
	Name() string
	Send(ctx context.Context, from string, msg Message) error
}

// Mailer fans a message across providers in order with exponential backoff per
// provider. Delivery failures are reported but callers treat mail as
// best-effort and never block settlement flows on it.
type Mailer struct {
	providers   []Sender
	defaultFrom string
	maxRetries  uint64
	retryBase   time.Duration
	logger      *logger.Logger
}

// New builds a mailer from config. The API provider is preferred when an API
// key is configured; SMTP acts as the fallback transport.
func New(cfg config.MailerConfig, logg *logger.Logger) (*Mailer, error) {
	if logg == nil {
		return nil, errors.New("mailer logger is required")
	}

	var providers []Sender
	if strings.TrimSpace(cfg.APIKey) != "" {
		providers = append(providers, newAPIProvider(cfg))
	}
	if strings.TrimSpace(cfg.SMTPHost) != "" {
		providers = append(providers, newSMTPProvider(cfg))
	}
	if len(providers) == 0 {
		return nil, errNoProviders
	}

	maxRetries := uint64(cfg.MaxRetries)
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}

	return &Mailer{
		providers:   providers,
		defaultFrom: cfg.DefaultFrom,
		maxRetries:  maxRetries,
		retryBase:   retryBase,
		logger:      logg,
	}, nil
}

// Send attempts delivery through each provider in order, retrying transient
// failures with exponential backoff before falling through. Returns the last
// provider error when every transport fails.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return errors.New("message has no subject")
	}

	var lastErr error
	for _, provider := range m.providers {
		backoff := retry.WithMaxRetries(m.maxRetries, retry.NewExponential(m.retryBase))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if sendErr := provider.Send(ctx, m.defaultFrom, msg); sendErr != nil {
				return retry.RetryableError(sendErr)
			}
			return nil
		})
		if err == nil {
			m.logger.Info(m.logger.WithField(ctx, "mail_provider", provider.Name()), "email delivered")
			return nil
		}
		lastErr = fmt.Errorf("%s: %w", provider.Name(), err)
		m.logger.Warn(m.logger.WithFields(ctx, map[string]any{
			"mail_provider": provider.Name(),
			"error":         err.Error(),
		}), "email provider failed, trying next")
	}
	return fmt.Errorf("all mail providers failed: %w", lastErr)
}
