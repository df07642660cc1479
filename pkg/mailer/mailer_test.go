package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/merkadoph/merkado-backend/pkg/config"
	"github.com/merkadoph/merkado-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

type fakeSender struct {
	name  string
	calls int32
	fail  func(call int32) error
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, from string, msg Message) error {
	call := atomic.AddInt32(&f.calls, 1)
	if f.fail == nil {
		return nil
	}
	return f.fail(call)
}

func newTestMailer(t *testing.T, providers ...Sender) *Mailer {
	t.Helper()
	m, err := New(config.MailerConfig{
		APIKey:      "sg_key",
		APIBaseURL:  "http://unused.test",
		DefaultFrom: "no-reply@merkado.ph",
		MaxRetries:  2,
		RetryBase:   time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.providers = providers
	return m
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	provider := &fakeSender{name: "api", fail: func(call int32) error {
		if call < 3 {
			return errors.New("transient")
		}
		return nil
	}}
	m := newTestMailer(t, provider)

	err := m.Send(context.Background(), Message{To: []string{"a@b.ph"}, Subject: "s", TextBody: "t"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if provider.calls != 3 {
		t.Errorf("calls = %d, want 3", provider.calls)
	}
}

func TestSendFallsThroughToNextProvider(t *testing.T) {
	primary := &fakeSender{name: "api", fail: func(int32) error { return errors.New("down") }}
	fallback := &fakeSender{name: "smtp"}
	m := newTestMailer(t, primary, fallback)

	err := m.Send(context.Background(), Message{To: []string{"a@b.ph"}, Subject: "s", TextBody: "t"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if primary.calls != 3 {
		t.Errorf("primary calls = %d, want 3 (1 try + 2 retries)", primary.calls)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.calls)
	}
}

func TestSendAllProvidersFail(t *testing.T) {
	m := newTestMailer(t, &fakeSender{name: "api", fail: func(int32) error { return errors.New("down") }})

	err := m.Send(context.Background(), Message{To: []string{"a@b.ph"}, Subject: "s", TextBody: "t"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSendValidatesMessage(t *testing.T) {
	m := newTestMailer(t, &fakeSender{name: "api"})
	if err := m.Send(context.Background(), Message{Subject: "s"}); err == nil {
		t.Error("expected error for missing recipients")
	}
	if err := m.Send(context.Background(), Message{To: []string{"a@b.ph"}}); err == nil {
		t.Error("expected error for missing subject")
	}
}

func TestAPIProviderRequest(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := newAPIProvider(config.MailerConfig{APIKey: "sg_key", APIBaseURL: server.URL})
	err := p.Send(context.Background(), "no-reply@merkado.ph", Message{
		To:       []string{"buyer@b.ph"},
		Subject:  "Withdrawal approved",
		TextBody: "Your withdrawal has been approved.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "Bearer sg_key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["subject"] != "Withdrawal approved" {
		t.Errorf("subject = %v", gotBody["subject"])
	}
}

func TestSMTPProviderBuildsMIME(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	p := &smtpProvider{host: "smtp.test", port: 587, send: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}}

	err := p.Send(context.Background(), "no-reply@merkado.ph", Message{
		To:       []string{"vendor@b.ph"},
		Subject:  "Remittance received",
		TextBody: "Commission remitted.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.test:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "no-reply@merkado.ph" {
		t.Errorf("from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "vendor@b.ph" {
		t.Errorf("to = %v", gotTo)
	}
	body := string(gotMsg)
	for _, want := range []string{"Subject: ", "Commission remitted."} {
		if !strings.Contains(body, want) {
			t.Errorf("mime body missing %q", want)
		}
	}
}
