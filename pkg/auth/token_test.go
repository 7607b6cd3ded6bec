package auth

import (
	"encoding/hex"
	"testing"
)

func TestNewVerificationTokenShape(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		token, err := NewVerificationToken()
		if err != nil {
			t.Fatalf("new verification token: %v", err)
		}
		if len(token) != 6 {
			t.Fatalf("expected 6 hex chars, got %q", token)
		}
		if _, err := hex.DecodeString(token); err != nil {
			t.Fatalf("expected hex token, got %q", token)
		}
		seen[token] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("expected tokens to vary")
	}
}

func TestNewSessionTokenLength(t *testing.T) {
	token, err := NewSessionToken()
	if err != nil {
		t.Fatalf("new session token: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}
}

func TestTokensEqual(t *testing.T) {
	if !TokensEqual("abc123", "abc123") {
		t.Fatalf("expected equal tokens")
	}
	if TokensEqual("abc123", "abc124") || TokensEqual("abc", "abc123") {
		t.Fatalf("expected unequal tokens")
	}
}
