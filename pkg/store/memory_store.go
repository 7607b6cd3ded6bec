package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"heartsearch/pkg/domain"
)

// MemoryStore keeps records in-process. Uniqueness rules match GormStore.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account // key: account ID
	email    map[string]string         // email -> account ID
	username map[string]string         // username -> account ID
	sess     map[string]domain.Session // token -> session
	links    map[string]domain.ProviderLink
	history  map[string][]domain.SearchHistoryEntry // account ID -> entries
	saved    map[string]domain.SavedResult          // key: saved result ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		email:    make(map[string]string),
		username: make(map[string]string),
		sess:     make(map[string]domain.Session),
		links:    make(map[string]domain.ProviderLink),
		history:  make(map[string][]domain.SearchHistoryEntry),
		saved:    make(map[string]domain.SavedResult),
	}
}

func linkKey(provider, providerAccountID string) string {
	return provider + "\x00" + providerAccountID
}

// CreateAccount registers an account.
func (m *MemoryStore) CreateAccount(_ context.Context, a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.email[a.Email]; ok {
		return ErrDuplicate
	}
	if _, ok := m.username[a.Username]; ok {
		return ErrDuplicate
	}
	m.accounts[a.ID] = a
	m.email[a.Email] = a.ID
	m.username[a.Username] = a.ID
	return nil
}

// FindAccountByEmailOrUsername returns any account matching either field.
func (m *MemoryStore) FindAccountByEmailOrUsername(_ context.Context, email, username string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		return m.accounts[id], true, nil
	}
	if id, ok := m.username[username]; ok {
		return m.accounts[id], true, nil
	}
	return domain.Account{}, false, nil
}

// GetAccountByID fetches an account by ID.
func (m *MemoryStore) GetAccountByID(_ context.Context, id string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok, nil
}

// GetAccountByEmail fetches an account by email.
func (m *MemoryStore) GetAccountByEmail(_ context.Context, email string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.Account{}, false, nil
	}
	return m.accounts[id], true, nil
}

// GetAccountByUsername fetches an account by username.
func (m *MemoryStore) GetAccountByUsername(_ context.Context, username string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.username[username]
	if !ok {
		return domain.Account{}, false, nil
	}
	return m.accounts[id], true, nil
}

// UpdateAccount replaces an account, keeping the email/username indexes in sync.
func (m *MemoryStore) UpdateAccount(_ context.Context, a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if id, taken := m.email[a.Email]; taken && id != a.ID {
		return ErrDuplicate
	}
	if id, taken := m.username[a.Username]; taken && id != a.ID {
		return ErrDuplicate
	}
	delete(m.email, prev.Email)
	delete(m.username, prev.Username)
	m.accounts[a.ID] = a
	m.email[a.Email] = a.ID
	m.username[a.Username] = a.ID
	return nil
}

// MarkEmailVerified flips the verified flag and clears the token.
func (m *MemoryStore) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.EmailVerified = true
	a.VerifyToken = nil
	a.VerifyTokenIssuedAt = nil
	a.UpdatedAt = at.UTC()
	m.accounts[id] = a
	return nil
}

// DeleteAccount removes an account and everything it owns.
func (m *MemoryStore) DeleteAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	delete(m.accounts, id)
	delete(m.email, a.Email)
	delete(m.username, a.Username)
	for token, s := range m.sess {
		if s.AccountID == id {
			delete(m.sess, token)
		}
	}
	for key, l := range m.links {
		if l.AccountID == id {
			delete(m.links, key)
		}
	}
	for key, r := range m.saved {
		if r.AccountID == id {
			delete(m.saved, key)
		}
	}
	delete(m.history, id)
	return nil
}

// LinkProvider stores an external-provider association.
func (m *MemoryStore) LinkProvider(_ context.Context, l domain.ProviderLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := linkKey(l.Provider, l.ProviderAccountID)
	if _, ok := m.links[key]; ok {
		return ErrDuplicate
	}
	m.links[key] = l
	return nil
}

// GetAccountByProvider resolves the account linked to a provider identity.
func (m *MemoryStore) GetAccountByProvider(_ context.Context, provider, providerAccountID string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[linkKey(provider, providerAccountID)]
	if !ok {
		return domain.Account{}, false, nil
	}
	a, ok := m.accounts[l.AccountID]
	return a, ok, nil
}

// UnlinkProvider removes a provider association.
func (m *MemoryStore) UnlinkProvider(_ context.Context, provider, providerAccountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := linkKey(provider, providerAccountID)
	if _, ok := m.links[key]; !ok {
		return ErrNotFound
	}
	delete(m.links, key)
	return nil
}

// CreateSession stores a session.
func (m *MemoryStore) CreateSession(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sess[s.SessionToken]; ok {
		return ErrDuplicate
	}
	m.sess[s.SessionToken] = s
	return nil
}

// GetSession returns a session by token.
func (m *MemoryStore) GetSession(_ context.Context, token string) (domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sess[token]
	return s, ok, nil
}

// UpdateSessionExpiry moves a session's expiry.
func (m *MemoryStore) UpdateSessionExpiry(_ context.Context, token string, expires time.Time) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sess[token]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	s.Expires = expires.UTC()
	m.sess[token] = s
	return s, nil
}

// DeleteSession removes a session token.
func (m *MemoryStore) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}

// AppendHistory records a search history entry.
func (m *MemoryStore) AppendHistory(_ context.Context, e domain.SearchHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.AccountID] = append(m.history[e.AccountID], e)
	return nil
}

// ListHistory returns an account's history, newest first.
func (m *MemoryStore) ListHistory(_ context.Context, accountID string) ([]domain.SearchHistoryEntry, error) {
	m.mu.RLock()
	res := append([]domain.SearchHistoryEntry(nil), m.history[accountID]...)
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		return newerFirst(res[i].CreatedAt, res[i].ID, res[j].CreatedAt, res[j].ID)
	})
	if res == nil {
		res = []domain.SearchHistoryEntry{}
	}
	return res, nil
}

// SaveResult stores a saved search result.
func (m *MemoryStore) SaveResult(_ context.Context, r domain.SavedResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.saved[r.ID]; ok {
		return ErrDuplicate
	}
	r.Sources = append([]string(nil), r.Sources...)
	m.saved[r.ID] = r
	return nil
}

// ListSavedResults returns an account's saved results, newest first.
func (m *MemoryStore) ListSavedResults(_ context.Context, accountID string) ([]domain.SavedResult, error) {
	m.mu.RLock()
	res := make([]domain.SavedResult, 0)
	for _, r := range m.saved {
		if r.AccountID == accountID {
			res = append(res, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		return newerFirst(res[i].CreatedAt, res[i].ID, res[j].CreatedAt, res[j].ID)
	})
	return res, nil
}

// GetSavedResult returns a saved result only when owned by accountID.
func (m *MemoryStore) GetSavedResult(_ context.Context, id, accountID string) (domain.SavedResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.saved[id]
	if !ok || r.AccountID != accountID {
		return domain.SavedResult{}, false, nil
	}
	return r, true, nil
}

// DeleteSavedResult deletes a saved result owned by accountID.
func (m *MemoryStore) DeleteSavedResult(_ context.Context, id, accountID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.saved[id]
	if !ok || r.AccountID != accountID {
		return false, nil
	}
	delete(m.saved, id)
	return true, nil
}

// newerFirst orders by creation time descending, then id descending.
func newerFirst(ta time.Time, ida string, tb time.Time, idb string) bool {
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return ida > idb
}
