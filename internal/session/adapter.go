package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"heartsearch/internal/util"
	"heartsearch/pkg/domain"
	"heartsearch/pkg/store"
)

// NewUser is the profile an external identity provider hands over.
type NewUser struct {
	Email         string
	Name          string
	Image         string
	EmailVerified bool
}

// UserUpdate changes the provider-managed profile fields. Nil fields are kept.
type UserUpdate struct {
	ID            string
	Email         *string
	Name          *string
	Image         *string
	EmailVerified *bool
}

// Adapter lets an external session manager (OAuth sign-in, provider
// linking) read and write identities through the same store the gate uses.
type Adapter struct {
	store store.Store
	now   func() time.Time
}

func NewAdapter(s store.Store) *Adapter {
	return &Adapter{store: s, now: time.Now}
}

// CreateUser stores a provider-created account. The email doubles as the
// username since providers do not supply one.
func (a *Adapter) CreateUser(ctx context.Context, in NewUser) (domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return domain.Account{}, errors.New("email is required")
	}
	now := a.now().UTC()
	acc := domain.Account{
		ID:            util.NewID(),
		Email:         email,
		Username:      email,
		Name:          strings.TrimSpace(in.Name),
		Image:         strings.TrimSpace(in.Image),
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.CreateAccount(ctx, acc); err != nil {
		return domain.Account{}, fmt.Errorf("create user: %w", err)
	}
	return acc, nil
}

func (a *Adapter) GetUser(ctx context.Context, id string) (domain.Account, bool, error) {
	return a.store.GetAccountByID(ctx, id)
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (domain.Account, bool, error) {
	return a.store.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (a *Adapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (domain.Account, bool, error) {
	return a.store.GetAccountByProvider(ctx, provider, providerAccountID)
}

// UpdateUser applies in. Marking the email verified also clears any pending
// verification token.
func (a *Adapter) UpdateUser(ctx context.Context, in UserUpdate) (domain.Account, error) {
	acc, ok, err := a.store.GetAccountByID(ctx, in.ID)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, store.ErrNotFound
	}
	if in.Email != nil {
		acc.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Name != nil {
		acc.Name = strings.TrimSpace(*in.Name)
	}
	if in.Image != nil {
		acc.Image = strings.TrimSpace(*in.Image)
	}
	if in.EmailVerified != nil {
		acc.EmailVerified = *in.EmailVerified
		if acc.EmailVerified {
			acc.VerifyToken = nil
			acc.VerifyTokenIssuedAt = nil
		}
	}
	acc.UpdatedAt = a.now().UTC()
	if err := a.store.UpdateAccount(ctx, acc); err != nil {
		return domain.Account{}, fmt.Errorf("update user: %w", err)
	}
	return acc, nil
}

func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	return a.store.DeleteAccount(ctx, id)
}

func (a *Adapter) LinkAccount(ctx context.Context, link domain.ProviderLink) error {
	if link.ID == "" {
		link.ID = util.NewID()
	}
	if link.AccountID == "" || link.Provider == "" || link.ProviderAccountID == "" {
		return errors.New("accountId, provider and providerAccountId are required")
	}
	return a.store.LinkProvider(ctx, link)
}

func (a *Adapter) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	return a.store.UnlinkProvider(ctx, provider, providerAccountID)
}

func (a *Adapter) CreateSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	sess.Expires = sess.Expires.UTC()
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// GetSessionAndUser returns the session with its account. Unlike the gate it
// does not judge expiry; the caller owns that decision.
func (a *Adapter) GetSessionAndUser(ctx context.Context, token string) (domain.Session, domain.Account, bool, error) {
	sess, ok, err := a.store.GetSession(ctx, token)
	if err != nil || !ok {
		return domain.Session{}, domain.Account{}, false, err
	}
	acc, ok, err := a.store.GetAccountByID(ctx, sess.AccountID)
	if err != nil || !ok {
		return domain.Session{}, domain.Account{}, false, err
	}
	return sess, acc, true, nil
}

func (a *Adapter) UpdateSession(ctx context.Context, token string, expires time.Time) (domain.Session, error) {
	return a.store.UpdateSessionExpiry(ctx, token, expires)
}

func (a *Adapter) DeleteSession(ctx context.Context, token string) error {
	return a.store.DeleteSession(ctx, token)
}
