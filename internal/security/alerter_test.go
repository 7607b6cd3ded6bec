package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newAlerter(t *testing.T) *AuditAlerter {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	alerter := NewAuditAlerter(client, "test:alerts")
	if alerter == nil {
		t.Fatalf("expected alerter")
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	alerter.now = func() time.Time { return fixed }
	return alerter
}

func TestAuditAlerterVerifyFailuresTrigger(t *testing.T) {
	alerter := newAlerter(t)
	ctx := context.Background()
	var last AlertResult
	for i := 0; i < 8; i++ {
		result, err := alerter.Observe(ctx, EventVerify, OutcomeFail, "10.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		last = result
	}
	if !last.Triggered || last.Count != 8 {
		t.Fatalf("expected trigger at 8, got %+v", last)
	}

	other, err := alerter.Observe(ctx, EventVerify, OutcomeFail, "10.0.0.2")
	if err != nil {
		t.Fatalf("observe other ip: %v", err)
	}
	if other.Triggered || other.Count != 1 {
		t.Fatalf("expected independent counter per ip, got %+v", other)
	}
}

func TestAuditAlerterIgnoresSuccessAndUnknownEvents(t *testing.T) {
	alerter := newAlerter(t)
	ctx := context.Background()
	for _, tc := range []struct{ event, outcome string }{
		{EventLogin, OutcomeSuccess},
		{"auth.custom", OutcomeFail},
	} {
		result, err := alerter.Observe(ctx, tc.event, tc.outcome, "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if result.Triggered || result.Count != 0 {
			t.Fatalf("unexpected count for %s/%s: %+v", tc.event, tc.outcome, result)
		}
	}
}

func TestNilAuditAlerterIsNoop(t *testing.T) {
	var alerter *AuditAlerter
	if NewAuditAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without client")
	}
	result, err := alerter.Observe(context.Background(), EventLogin, OutcomeFail, "1.2.3.4")
	if err != nil || result.Triggered {
		t.Fatalf("expected noop, got %+v %v", result, err)
	}
}
