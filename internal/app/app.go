package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"heartsearch/internal/session"
	"heartsearch/internal/util"
	"heartsearch/pkg/domain"
	"heartsearch/pkg/extract"
	"heartsearch/pkg/mailer"
	"heartsearch/pkg/pubmed"
	"heartsearch/pkg/queue"
	"heartsearch/pkg/storage"
	"heartsearch/pkg/store"
)

// Searcher runs a literature query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// TextExtractor turns an uploaded file into query text.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Config holds runtime configuration for the core application. Collaborators
// left nil are built from the scalar settings.
type Config struct {
	DatabaseURL     string
	AppURL          string
	PubMedBaseURL   string
	PubMedAPIKey    string
	PubMedTimeout   time.Duration
	SessionSecret   string
	SessionTTL      time.Duration
	SessionSecure   bool
	VerifyTokenTTL  time.Duration
	FailOnMailError bool
	OCRCommand      []string
	OCRTimeout      time.Duration
	MaxUploadBytes  int64

	Store     store.Store
	Search    Searcher
	Mailer    mailer.Sender
	Extractor TextExtractor
	History   queue.HistoryQueue
	Archive   storage.ObjectStore
	Sessions  *session.Gate
	Now       func() time.Time
}

// App is the core application service wiring together storage, search and
// account logic.
type App struct {
	store           store.Store
	search          Searcher
	mailer          mailer.Sender
	extractor       TextExtractor
	history         queue.HistoryQueue
	archive         storage.ObjectStore
	sessions        *session.Gate
	verifyTokenTTL  time.Duration
	failOnMailError bool
	maxUploadBytes  int64
	now             func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessions := cfg.Sessions
	if sessions == nil {
		var err error
		sessions, err = session.NewGate(session.Config{
			Store:  dataStore,
			Secret: cfg.SessionSecret,
			TTL:    cfg.SessionTTL,
			Secure: cfg.SessionSecure,
			Now:    cfg.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("init session gate: %w", err)
		}
	}

	searcher := cfg.Search
	if searcher == nil {
		searcher = pubmed.NewClient(pubmed.Config{
			BaseURL: cfg.PubMedBaseURL,
			APIKey:  cfg.PubMedAPIKey,
			AppURL:  cfg.AppURL,
			Timeout: cfg.PubMedTimeout,
		})
	}

	sender := cfg.Mailer
	if sender == nil {
		sender = mailer.LogSender{}
	}

	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = extract.New(extract.Config{
			OCRCommand: cfg.OCRCommand,
			Timeout:    cfg.OCRTimeout,
			MaxBytes:   maxUpload,
		})
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &App{
		store:           dataStore,
		search:          searcher,
		mailer:          sender,
		extractor:       extractor,
		history:         cfg.History,
		archive:         cfg.Archive,
		sessions:        sessions,
		verifyTokenTTL:  cfg.VerifyTokenTTL,
		failOnMailError: cfg.FailOnMailError,
		maxUploadBytes:  maxUpload,
		now:             now,
	}, nil
}

// Sessions exposes the gate used to authenticate requests.
func (a *App) Sessions() *session.Gate { return a.sessions }

// MaxUploadBytes is the largest accepted image upload.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

func (a *App) logger(ctx context.Context) *slog.Logger {
	return util.LoggerFromContext(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
