package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"heartsearch/pkg/domain"
	"heartsearch/pkg/store"
)

const testSecret = "test-session-secret-0123456789"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestGate(t *testing.T) (*Gate, *store.MemoryStore, *fakeClock) {
	t.Helper()
	mem := store.NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := mem.CreateAccount(context.Background(), domain.Account{
		ID: "acc-1", Email: "ada@example.com", Username: "ada", EmailVerified: true, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	clock := &fakeClock{t: now}
	gate, err := NewGate(Config{Store: mem, Secret: testSecret, TTL: time.Hour, Now: clock.Now})
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate, mem, clock
}

func TestGateIssueAndAuthenticate(t *testing.T) {
	gate, _, _ := newTestGate(t)
	cred, sess, err := gate.Issue(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(sess.SessionToken) != 64 {
		t.Fatalf("expected 32-byte hex session token, got %q", sess.SessionToken)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cred})
	acc, err := gate.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate cookie: %v", err)
	}
	if acc.ID != "acc-1" {
		t.Fatalf("unexpected account: %q", acc.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+cred)
	if _, err := gate.Authenticate(req); err != nil {
		t.Fatalf("authenticate bearer: %v", err)
	}
}

func TestGateRejectsBadCredentials(t *testing.T) {
	gate, _, _ := newTestGate(t)
	cred, sess, err := gate.Issue(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: tokenIssuer, ID: sess.SessionToken,
	}).SignedString([]byte("another-secret-entirely-123"))
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer: tokenIssuer, ID: sess.SessionToken,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, c := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"raw token":    sess.SessionToken,
		"forged":       forged,
		"none alg":     noneAlg,
		"tampered sig": cred[:len(cred)-2] + "xx",
	} {
		if _, _, err := gate.Resolve(context.Background(), c); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestGateDeletesExpiredSession(t *testing.T) {
	gate, mem, clock := newTestGate(t)
	cred, sess, err := gate.Issue(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.t = clock.t.Add(2 * time.Hour)
	if _, _, err := gate.Resolve(context.Background(), cred); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expired session rejected, got %v", err)
	}
	if _, ok, _ := mem.GetSession(context.Background(), sess.SessionToken); ok {
		t.Fatalf("expected expired session deleted")
	}
}

func TestGateRevoke(t *testing.T) {
	gate, _, _ := newTestGate(t)
	cred, sess, err := gate.Issue(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := gate.Revoke(context.Background(), sess.SessionToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := gate.Resolve(context.Background(), cred); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked session rejected, got %v", err)
	}
}

func TestNewGateValidatesConfig(t *testing.T) {
	if _, err := NewGate(Config{Secret: testSecret}); err == nil {
		t.Fatalf("expected missing store to fail")
	}
	if _, err := NewGate(Config{Store: store.NewMemoryStore(), Secret: "short"}); err == nil {
		t.Fatalf("expected short secret to fail")
	}
}

func TestCookieHelpers(t *testing.T) {
	gate, _, _ := newTestGate(t)
	rec := httptest.NewRecorder()
	gate.SetCookie(rec, "value", time.Now().Add(time.Hour))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookie: %+v", cookies)
	}
	rec = httptest.NewRecorder()
	gate.ClearCookie(rec)
	cookies = rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
}
