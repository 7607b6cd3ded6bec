package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"heartsearch/internal/util"
	"heartsearch/pkg/auth"
	"heartsearch/pkg/domain"
	"heartsearch/pkg/mailer"
	"heartsearch/pkg/store"
)

type RegisterInput struct {
	Email     string
	Password  string
	Username  string
	FirstName string
	LastName  string
}

// Register creates an unverified account and mails its verification code.
// Mail delivery is best-effort: the account stays committed when sending
// fails, and the failure is only surfaced if FailOnMailError is set.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.Account, error) {
	email := normalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	if email == "" || strings.TrimSpace(in.Password) == "" || username == "" || firstName == "" || lastName == "" {
		return domain.Account{}, invalid("Missing required fields")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Account{}, invalid("Invalid email address")
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return domain.Account{}, invalid(fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordBytes))
	}

	_, exists, err := a.store.FindAccountByEmailOrUsername(ctx, email, username)
	if err != nil {
		return domain.Account{}, fmt.Errorf("check existing account: %w", err)
	}
	if exists {
		return domain.Account{}, ErrConflict
	}

	passwordHash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}
	token, err := auth.NewVerificationToken()
	if err != nil {
		return domain.Account{}, err
	}
	now := a.now().UTC()
	acc := domain.Account{
		ID:                  util.NewID(),
		Email:               email,
		Username:            username,
		FirstName:           firstName,
		LastName:            lastName,
		PasswordHash:        passwordHash,
		EmailVerified:       false,
		VerifyToken:         &token,
		VerifyTokenIssuedAt: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := a.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Account{}, ErrConflict
		}
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}

	if err := a.sendVerification(ctx, acc.Email, token); err != nil {
		a.logger(ctx).Error("verification_mail_failed", "account_id", acc.ID, "err", err)
		if a.failOnMailError {
			return acc, fmt.Errorf("%w: %w", ErrNotificationFailed, err)
		}
	}
	return acc, nil
}

// Verify marks the account verified when code matches its pending token.
// A mismatch leaves the account untouched.
func (a *App) Verify(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	code = strings.ToLower(strings.TrimSpace(code))
	if email == "" || code == "" {
		return invalid("Missing required fields")
	}
	acc, ok, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return notFound("User not found")
	}
	if acc.EmailVerified {
		return ErrAlreadyVerified
	}
	if acc.VerifyToken == nil || !auth.TokensEqual(*acc.VerifyToken, code) {
		return ErrInvalidCode
	}
	if a.verifyTokenTTL > 0 && acc.VerifyTokenIssuedAt != nil &&
		a.now().Sub(*acc.VerifyTokenIssuedAt) > a.verifyTokenTTL {
		return ErrCodeExpired
	}
	if err := a.store.MarkEmailVerified(ctx, acc.ID, a.now()); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// ResendVerification replaces the pending code of an unverified account and
// mails the new one.
func (a *App) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return invalid("Email is required")
	}
	acc, ok, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return notFound("User not found")
	}
	if acc.EmailVerified {
		return ErrAlreadyVerified
	}
	token, err := auth.NewVerificationToken()
	if err != nil {
		return err
	}
	now := a.now().UTC()
	acc.VerifyToken = &token
	acc.VerifyTokenIssuedAt = &now
	acc.UpdatedAt = now
	if err := a.store.UpdateAccount(ctx, acc); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if err := a.sendVerification(ctx, acc.Email, token); err != nil {
		a.logger(ctx).Error("verification_mail_failed", "account_id", acc.ID, "err", err)
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	return nil
}

func (a *App) sendVerification(ctx context.Context, to, token string) error {
	msg, err := mailer.VerificationMessage(to, token, a.verifyTokenTTL)
	if err != nil {
		return err
	}
	return a.mailer.Send(ctx, msg)
}

// LoginResult is a freshly issued session.
type LoginResult struct {
	Account    domain.Account
	Session    domain.Session
	Credential string
}

// Login checks the password for an email or username and issues a session.
func (a *App) Login(ctx context.Context, identifier, password string) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return LoginResult{}, invalid("Missing required fields")
	}
	acc, ok, err := a.lookupLogin(ctx, identifier)
	if err != nil {
		return LoginResult{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok || !auth.CheckPassword(password, acc.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !acc.EmailVerified {
		return LoginResult{}, ErrEmailNotVerified
	}
	credential, sess, err := a.sessions.Issue(ctx, acc.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session: %w", err)
	}
	return LoginResult{Account: acc, Session: sess, Credential: credential}, nil
}

func (a *App) lookupLogin(ctx context.Context, identifier string) (domain.Account, bool, error) {
	if strings.Contains(identifier, "@") {
		acc, ok, err := a.store.GetAccountByEmail(ctx, normalizeEmail(identifier))
		if err != nil || ok {
			return acc, ok, err
		}
	}
	return a.store.GetAccountByUsername(ctx, identifier)
}

// Logout ends the session behind sessionToken.
func (a *App) Logout(ctx context.Context, sessionToken string) error {
	if err := a.sessions.Revoke(ctx, sessionToken); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
