package domain

import (
	"strings"
	"time"
)

type SearchType string

const (
	SearchText  SearchType = "text"
	SearchImage SearchType = "image"
)

// ParseSearchType maps user input to a SearchType. Empty input is text.
func ParseSearchType(raw string) (SearchType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(SearchText):
		return SearchText, true
	case string(SearchImage):
		return SearchImage, true
	default:
		return "", false
	}
}

type Account struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Username            string     `json:"username"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	Name                string     `json:"name,omitempty"`
	Image               string     `json:"image,omitempty"`
	PasswordHash        string     `json:"-"`
	EmailVerified       bool       `json:"emailVerified"`
	VerifyToken         *string    `json:"-"`
	VerifyTokenIssuedAt *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// DisplayName prefers the explicit name, then first/last, then username.
func (a Account) DisplayName() string {
	if n := strings.TrimSpace(a.Name); n != "" {
		return n
	}
	if n := strings.TrimSpace(a.FirstName + " " + a.LastName); n != "" {
		return n
	}
	return a.Username
}

type Session struct {
	SessionToken string    `json:"sessionToken"`
	AccountID    string    `json:"accountId"`
	Expires      time.Time `json:"expires"`
}

// Valid reports whether the session still authorizes requests at now.
func (s Session) Valid(now time.Time) bool {
	return s.SessionToken != "" && s.Expires.After(now)
}

type ProviderLink struct {
	ID                string `json:"id"`
	AccountID         string `json:"accountId"`
	Type              string `json:"type"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
	AccessToken       string `json:"-"`
	RefreshToken      string `json:"-"`
	IDToken           string `json:"-"`
	ExpiresAt         *int64 `json:"expiresAt,omitempty"`
	TokenType         string `json:"tokenType,omitempty"`
	Scope             string `json:"scope,omitempty"`
	SessionState      string `json:"sessionState,omitempty"`
}

type SearchHistoryEntry struct {
	ID        string     `json:"id"`
	Query     string     `json:"query"`
	Type      SearchType `json:"type"`
	AccountID string     `json:"userId"`
	CreatedAt time.Time  `json:"createdAt"`
}

type SavedResult struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Sources   []string  `json:"sources"`
	AccountID string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SearchResult is the normalized shape returned to clients for each hit.
type SearchResult struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Sources []string `json:"sources"`
}
