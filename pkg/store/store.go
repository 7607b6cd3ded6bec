package store

import (
	"context"
	"errors"
	"time"

	"heartsearch/pkg/domain"
)

var (
	// ErrDuplicate is returned when a write violates a uniqueness constraint
	// (email, username, session token, provider link).
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrNotFound is returned by mutations that target a missing record.
	ErrNotFound = errors.New("store: record not found")
)

// Store defines persistence operations for accounts, sessions, provider
// links, search history and saved results.
type Store interface {
	// accounts
	CreateAccount(ctx context.Context, account domain.Account) error
	FindAccountByEmailOrUsername(ctx context.Context, email, username string) (domain.Account, bool, error)
	GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error)
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error)
	GetAccountByUsername(ctx context.Context, username string) (domain.Account, bool, error)
	UpdateAccount(ctx context.Context, account domain.Account) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	DeleteAccount(ctx context.Context, id string) error

	// provider links
	LinkProvider(ctx context.Context, link domain.ProviderLink) error
	GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (domain.Account, bool, error)
	UnlinkProvider(ctx context.Context, provider, providerAccountID string) error

	// sessions
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, token string) (domain.Session, bool, error)
	UpdateSessionExpiry(ctx context.Context, token string, expires time.Time) (domain.Session, error)
	DeleteSession(ctx context.Context, token string) error

	// search history
	AppendHistory(ctx context.Context, entry domain.SearchHistoryEntry) error
	ListHistory(ctx context.Context, accountID string) ([]domain.SearchHistoryEntry, error)

	// saved results
	SaveResult(ctx context.Context, result domain.SavedResult) error
	ListSavedResults(ctx context.Context, accountID string) ([]domain.SavedResult, error)
	GetSavedResult(ctx context.Context, id, accountID string) (domain.SavedResult, bool, error)
	DeleteSavedResult(ctx context.Context, id, accountID string) (bool, error)
}
