package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/merkadoph/merkado-backend/pkg/config"
)

type apiProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newAPIProvider(cfg config.MailerConfig) *apiProvider {
	return &apiProvider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func (p *apiProvider) Name() string { return "api" }

func (p *apiProvider) Send(ctx context.Context, from string, msg Message) error {
	personalizations := make([]map[string]any, 0, 1)
	recipients := make([]map[string]string, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, map[string]string{"email": to})
	}
	personalizations = append(personalizations, map[string]any{"to": recipients})

	content := []map[string]string{{"type": "text/plain", "value": msg.TextBody}}
	if msg.HTMLBody != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.HTMLBody})
	}

	body, err := json.Marshal(map[string]any{
		"personalizations": personalizations,
		"from":             map[string]string{"email": from},
		"subject":          msg.Subject,
		"content":          content,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/mail/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail api returned %d", resp.StatusCode)
	}
	return nil
}

// smtpSendFunc matches smtp.SendMail so tests can intercept delivery.
type smtpSendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type smtpProvider struct {
	host     string
	port     int
	username string
	password string
	send     smtpSendFunc
}

func newSMTPProvider(cfg config.MailerConfig) *smtpProvider {
	return &smtpProvider{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPass,
		send:     smtp.SendMail,
	}
}

func (p *smtpProvider) Name() string { return "smtp" }

func (p *smtpProvider) Send(ctx context.Context, from string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}
	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	return p.send(addr, auth, from, msg.To, buildMIME(from, msg))
}

func buildMIME(from string, msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTMLBody != "" {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.HTMLBody)
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.TextBody)
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}
