package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"heartsearch/pkg/domain"
)

const migrateLockID int64 = 48011207

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&AccountModel{},
			&SessionModel{},
			&ProviderLinkModel{},
			&SearchHistoryModel{},
			&SavedResultModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// CreateAccount inserts a new account; unique violations map to ErrDuplicate.
func (s *GormStore) CreateAccount(ctx context.Context, a domain.Account) error {
	model := accountToModel(a)
	return translateErr(s.db.WithContext(ctx).Create(&model).Error)
}

// FindAccountByEmailOrUsername returns any account matching either field.
func (s *GormStore) FindAccountByEmailOrUsername(ctx context.Context, email, username string) (domain.Account, bool, error) {
	return s.firstAccount(ctx, "email = ? OR username = ?", email, username)
}

// GetAccountByID returns an account by ID.
func (s *GormStore) GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error) {
	return s.firstAccount(ctx, "id = ?", id)
}

// GetAccountByEmail looks up an account by email.
func (s *GormStore) GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error) {
	return s.firstAccount(ctx, "email = ?", email)
}

// GetAccountByUsername looks up an account by username.
func (s *GormStore) GetAccountByUsername(ctx context.Context, username string) (domain.Account, bool, error) {
	return s.firstAccount(ctx, "username = ?", username)
}

func (s *GormStore) firstAccount(ctx context.Context, query string, args ...any) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// UpdateAccount overwrites the mutable account columns.
func (s *GormStore) UpdateAccount(ctx context.Context, a domain.Account) error {
	model := accountToModel(a)
	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", a.ID).
		Select("email", "username", "first_name", "last_name", "name", "image", "password_hash",
			"email_verified", "verify_token", "verify_token_issued_at", "updated_at").
		Updates(&model)
	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmailVerified flips the verified flag and clears the token in one update.
func (s *GormStore) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"email_verified":         true,
			"verify_token":           nil,
			"verify_token_issued_at": nil,
			"updated_at":             at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account and everything it owns.
func (s *GormStore) DeleteAccount(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SessionModel{}, "account_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProviderLinkModel{}, "account_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&SearchHistoryModel{}, "account_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&SavedResultModel{}, "account_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&AccountModel{}, "id = ?", id).Error
	})
}

// LinkProvider stores an external-provider association.
func (s *GormStore) LinkProvider(ctx context.Context, link domain.ProviderLink) error {
	model := linkToModel(link)
	return translateErr(s.db.WithContext(ctx).Create(&model).Error)
}

// GetAccountByProvider resolves the account linked to a provider identity.
func (s *GormStore) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (domain.Account, bool, error) {
	var link ProviderLinkModel
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).
		First(&link).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return s.GetAccountByID(ctx, link.AccountID)
}

// UnlinkProvider removes a provider association.
func (s *GormStore) UnlinkProvider(ctx context.Context, provider, providerAccountID string) error {
	res := s.db.WithContext(ctx).
		Delete(&ProviderLinkModel{}, "provider = ? AND provider_account_id = ?", provider, providerAccountID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession stores a session row.
func (s *GormStore) CreateSession(ctx context.Context, session domain.Session) error {
	model := SessionModel{
		SessionToken: session.SessionToken,
		AccountID:    session.AccountID,
		Expires:      session.Expires.UTC(),
	}
	return translateErr(s.db.WithContext(ctx).Create(&model).Error)
}

// GetSession returns a session by token.
func (s *GormStore) GetSession(ctx context.Context, token string) (domain.Session, bool, error) {
	var model SessionModel
	if err := s.db.WithContext(ctx).First(&model, "session_token = ?", token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// UpdateSessionExpiry moves a session's expiry.
func (s *GormStore) UpdateSessionExpiry(ctx context.Context, token string, expires time.Time) (domain.Session, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "session_token = ?", token).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		model.Expires = expires.UTC()
		return tx.Model(&SessionModel{}).
			Where("session_token = ?", token).
			Update("expires", model.Expires).Error
	})
	if err != nil {
		return domain.Session{}, err
	}
	return sessionFromModel(model), nil
}

// DeleteSession removes a session; missing tokens are not an error.
func (s *GormStore) DeleteSession(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Delete(&SessionModel{}, "session_token = ?", token).Error
}

// AppendHistory records a search history entry.
func (s *GormStore) AppendHistory(ctx context.Context, entry domain.SearchHistoryEntry) error {
	model := SearchHistoryModel{
		ID:        entry.ID,
		Query:     entry.Query,
		Type:      string(entry.Type),
		AccountID: entry.AccountID,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListHistory returns an account's history, newest first.
func (s *GormStore) ListHistory(ctx context.Context, accountID string) ([]domain.SearchHistoryEntry, error) {
	var models []SearchHistoryModel
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.SearchHistoryEntry, 0, len(models))
	for _, m := range models {
		res = append(res, domain.SearchHistoryEntry{
			ID:        m.ID,
			Query:     m.Query,
			Type:      domain.SearchType(m.Type),
			AccountID: m.AccountID,
			CreatedAt: m.CreatedAt,
		})
	}
	return res, nil
}

// SaveResult stores a saved search result.
func (s *GormStore) SaveResult(ctx context.Context, r domain.SavedResult) error {
	model, err := savedResultToModel(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListSavedResults returns an account's saved results, newest first.
func (s *GormStore) ListSavedResults(ctx context.Context, accountID string) ([]domain.SavedResult, error) {
	var models []SavedResultModel
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.SavedResult, 0, len(models))
	for _, m := range models {
		r, err := savedResultFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// GetSavedResult returns a saved result only when owned by accountID.
func (s *GormStore) GetSavedResult(ctx context.Context, id, accountID string) (domain.SavedResult, bool, error) {
	var model SavedResultModel
	if err := s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.SavedResult{}, false, nil
		}
		return domain.SavedResult{}, false, err
	}
	r, err := savedResultFromModel(model)
	if err != nil {
		return domain.SavedResult{}, false, err
	}
	return r, true, nil
}

// DeleteSavedResult deletes a saved result owned by accountID.
func (s *GormStore) DeleteSavedResult(ctx context.Context, id, accountID string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&SavedResultModel{}, "id = ? AND account_id = ?", id, accountID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		ID:                  a.ID,
		Email:               a.Email,
		Username:            a.Username,
		FirstName:           a.FirstName,
		LastName:            a.LastName,
		Name:                a.Name,
		Image:               a.Image,
		PasswordHash:        a.PasswordHash,
		EmailVerified:       a.EmailVerified,
		VerifyToken:         a.VerifyToken,
		VerifyTokenIssuedAt: a.VerifyTokenIssuedAt,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		ID:                  m.ID,
		Email:               m.Email,
		Username:            m.Username,
		FirstName:           m.FirstName,
		LastName:            m.LastName,
		Name:                m.Name,
		Image:               m.Image,
		PasswordHash:        m.PasswordHash,
		EmailVerified:       m.EmailVerified,
		VerifyToken:         m.VerifyToken,
		VerifyTokenIssuedAt: m.VerifyTokenIssuedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func linkToModel(l domain.ProviderLink) ProviderLinkModel {
	return ProviderLinkModel{
		ID:                l.ID,
		AccountID:         l.AccountID,
		Type:              l.Type,
		Provider:          l.Provider,
		ProviderAccountID: l.ProviderAccountID,
		AccessToken:       l.AccessToken,
		RefreshToken:      l.RefreshToken,
		IDToken:           l.IDToken,
		ExpiresAt:         l.ExpiresAt,
		TokenType:         l.TokenType,
		Scope:             l.Scope,
		SessionState:      l.SessionState,
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	return domain.Session{
		SessionToken: m.SessionToken,
		AccountID:    m.AccountID,
		Expires:      m.Expires,
	}
}

func savedResultToModel(r domain.SavedResult) (SavedResultModel, error) {
	sources := r.Sources
	if sources == nil {
		sources = []string{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return SavedResultModel{}, fmt.Errorf("marshal sources: %w", err)
	}
	return SavedResultModel{
		ID:        r.ID,
		Title:     r.Title,
		Summary:   r.Summary,
		Sources:   raw,
		AccountID: r.AccountID,
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}

func savedResultFromModel(m SavedResultModel) (domain.SavedResult, error) {
	var sources []string
	if len(m.Sources) > 0 {
		if err := json.Unmarshal(m.Sources, &sources); err != nil {
			return domain.SavedResult{}, fmt.Errorf("decode sources of saved result %s: %w", m.ID, err)
		}
	}
	if sources == nil {
		sources = []string{}
	}
	return domain.SavedResult{
		ID:        m.ID,
		Title:     m.Title,
		Summary:   m.Summary,
		Sources:   sources,
		AccountID: m.AccountID,
		CreatedAt: m.CreatedAt,
	}, nil
}
