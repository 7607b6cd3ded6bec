// Package session issues and checks account sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"heartsearch/pkg/auth"
	"heartsearch/pkg/domain"
	"heartsearch/pkg/store"
)

const (
	CookieName = "heart_session"
	DefaultTTL = 30 * 24 * time.Hour

	tokenIssuer = "heart"
)

// ErrUnauthenticated covers every way a credential can fail: missing,
// malformed, bad signature, unknown or expired session, missing account.
var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Store  store.Store
	Secret string
	TTL    time.Duration
	// Secure marks the cookie HTTPS-only.
	Secure bool
	Now    func() time.Time
}

// Gate resolves request credentials to accounts. The credential is an
// HS256-signed token wrapping an opaque session id that must exist in the
// store.
type Gate struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
	parser *jwt.Parser
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

func NewGate(cfg Config) (*Gate, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if len(secret) < 16 {
		return nil, errors.New("session secret must be at least 16 characters")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		store:  cfg.Store,
		secret: []byte(secret),
		ttl:    ttl,
		secure: cfg.Secure,
		now:    now,
		// Expiry is enforced against the stored session, which can be
		// extended after the token was signed.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the lifetime given to new sessions.
func (g *Gate) TTL() time.Duration { return g.ttl }

// Issue creates a session for accountID and returns its signed credential.
func (g *Gate) Issue(ctx context.Context, accountID string) (string, domain.Session, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return "", domain.Session{}, err
	}
	now := g.now().UTC()
	sess := domain.Session{
		SessionToken: token,
		AccountID:    accountID,
		Expires:      now.Add(g.ttl),
	}
	if err := g.store.CreateSession(ctx, sess); err != nil {
		return "", domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	signed, err := g.sign(sess, now)
	if err != nil {
		_ = g.store.DeleteSession(ctx, token)
		return "", domain.Session{}, err
	}
	return signed, sess, nil
}

func (g *Gate) sign(sess domain.Session, now time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sess.AccountID,
			ID:        sess.SessionToken,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.Expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Authenticate resolves the request's credential to its account.
func (g *Gate) Authenticate(r *http.Request) (domain.Account, error) {
	acc, _, err := g.Resolve(r.Context(), Credential(r))
	return acc, err
}

// Resolve verifies a signed credential and loads its session and account.
// Expired sessions are deleted when encountered.
func (g *Gate) Resolve(ctx context.Context, credential string) (domain.Account, domain.Session, error) {
	token, err := g.sessionToken(credential)
	if err != nil {
		return domain.Account{}, domain.Session{}, err
	}
	sess, ok, err := g.store.GetSession(ctx, token)
	if err != nil {
		return domain.Account{}, domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return domain.Account{}, domain.Session{}, ErrUnauthenticated
	}
	if !sess.Valid(g.now()) {
		_ = g.store.DeleteSession(ctx, token)
		return domain.Account{}, domain.Session{}, ErrUnauthenticated
	}
	acc, ok, err := g.store.GetAccountByID(ctx, sess.AccountID)
	if err != nil {
		return domain.Account{}, domain.Session{}, fmt.Errorf("load account: %w", err)
	}
	if !ok {
		_ = g.store.DeleteSession(ctx, token)
		return domain.Account{}, domain.Session{}, ErrUnauthenticated
	}
	return acc, sess, nil
}

func (g *Gate) sessionToken(credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrUnauthenticated
	}
	var claims sessionClaims
	parsed, err := g.parser.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrUnauthenticated
	}
	if claims.ID == "" || claims.Issuer != tokenIssuer {
		return "", ErrUnauthenticated
	}
	return claims.ID, nil
}

// Revoke deletes the session behind token.
func (g *Gate) Revoke(ctx context.Context, sessionToken string) error {
	if strings.TrimSpace(sessionToken) == "" {
		return nil
	}
	return g.store.DeleteSession(ctx, sessionToken)
}

// SetCookie writes the session cookie.
func (g *Gate) SetCookie(w http.ResponseWriter, credential string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    credential,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (g *Gate) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Credential returns the bearer token or session cookie value, in that order.
func Credential(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}
