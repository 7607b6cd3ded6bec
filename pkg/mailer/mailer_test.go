package mailer

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestVerificationMessageWithoutExpiry(t *testing.T) {
	msg, err := VerificationMessage("ada@example.com", "a1b2c3", 0)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.To != "ada@example.com" || msg.Subject != "Verify your Heart account" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if !strings.Contains(msg.HTML, "<strong>a1b2c3</strong>") {
		t.Fatalf("expected code in html body: %s", msg.HTML)
	}
	if !strings.Contains(msg.Text, "a1b2c3") {
		t.Fatalf("expected code in text body: %s", msg.Text)
	}
	if strings.Contains(msg.HTML, "expire") || strings.Contains(msg.Text, "expire") {
		t.Fatalf("expected no expiry claim when ttl is unset")
	}
}

func TestVerificationMessageWithExpiry(t *testing.T) {
	msg, err := VerificationMessage("ada@example.com", "a1b2c3", 24*time.Hour)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if !strings.Contains(msg.HTML, "expire in 24 hours") {
		t.Fatalf("expected expiry claim, got: %s", msg.HTML)
	}
}

func TestFormatTTL(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want string
	}{
		{0, ""},
		{time.Hour, "1 hour"},
		{48 * time.Hour, "48 hours"},
		{15 * time.Minute, "15 minutes"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		if got := formatTTL(tt.ttl); got != tt.want {
			t.Errorf("formatTTL(%v) = %q, want %q", tt.ttl, got, tt.want)
		}
	}
}

func TestNewSMTPSenderValidation(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{}); err == nil {
		t.Fatalf("expected missing host to fail")
	}
	if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Fatalf("expected missing from to fail")
	}
	if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Username: "noreply@example.com", Password: "x"}); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := LogSender{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := s.Send(context.Background(), Message{To: "ada@example.com", Subject: "hi", Text: "code"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "ada@example.com") {
		t.Fatalf("expected recipient logged, got: %s", buf.String())
	}
}
