package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	verificationTokenBytes = 3
	sessionTokenBytes      = 32
)

// NewVerificationToken returns a short hex code mailed to the account owner.
func NewVerificationToken() (string, error) {
	return randomHex(verificationTokenBytes)
}

// NewSessionToken returns an opaque session identifier.
func NewSessionToken() (string, error) {
	return randomHex(sessionTokenBytes)
}

// TokensEqual compares two tokens in constant time.
func TokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
