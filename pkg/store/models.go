package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AccountModel struct {
	ID                  string `gorm:"primaryKey"`
	Email               string `gorm:"uniqueIndex;not null"`
	Username            string `gorm:"uniqueIndex;not null"`
	FirstName           string `gorm:"not null"`
	LastName            string `gorm:"not null"`
	Name                string
	Image               string
	PasswordHash        string
	EmailVerified       bool `gorm:"not null;default:false"`
	VerifyToken         *string
	VerifyTokenIssuedAt *time.Time
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time
}

type SessionModel struct {
	SessionToken string    `gorm:"primaryKey"`
	AccountID    string    `gorm:"not null;index"`
	Expires      time.Time `gorm:"not null;index"`
}

type ProviderLinkModel struct {
	ID                string `gorm:"primaryKey"`
	AccountID         string `gorm:"not null;index"`
	Type              string `gorm:"not null"`
	Provider          string `gorm:"not null;uniqueIndex:idx_provider_account"`
	ProviderAccountID string `gorm:"not null;uniqueIndex:idx_provider_account"`
	AccessToken       string `gorm:"type:text"`
	RefreshToken      string `gorm:"type:text"`
	IDToken           string `gorm:"type:text"`
	ExpiresAt         *int64
	TokenType         string
	Scope             string
	SessionState      string
}

type SearchHistoryModel struct {
	ID        string    `gorm:"primaryKey"`
	Query     string    `gorm:"type:text;not null"`
	Type      string    `gorm:"not null"`
	AccountID string    `gorm:"not null;index:idx_history_account_created,priority:1"`
	CreatedAt time.Time `gorm:"not null;index:idx_history_account_created,priority:2"`
}

type SavedResultModel struct {
	ID        string         `gorm:"primaryKey"`
	Title     string         `gorm:"type:text;not null"`
	Summary   string         `gorm:"type:text;not null"`
	Sources   datatypes.JSON `gorm:"type:jsonb;not null"`
	AccountID string         `gorm:"not null;index:idx_saved_account_created,priority:1"`
	CreatedAt time.Time      `gorm:"not null;index:idx_saved_account_created,priority:2"`
}
