package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"heartsearch/internal/util"
	"heartsearch/pkg/domain"
	"heartsearch/pkg/extract"
	"heartsearch/pkg/storage"
)

// maxQueryRunes bounds OCR text used as a query.
const maxQueryRunes = 500

// HandleSearch runs query against the literature database. When account is
// set, a history entry is dispatched once results are known; dispatch
// failures are logged and never change the response.
func (a *App) HandleSearch(ctx context.Context, query, searchType string, account *domain.Account) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("Query is required")
	}
	typ, ok := domain.ParseSearchType(searchType)
	if !ok {
		return nil, invalid("Unknown search type")
	}
	results, err := a.search.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if account != nil {
		a.dispatchHistory(ctx, domain.SearchHistoryEntry{
			ID:        util.NewID(),
			Query:     query,
			Type:      typ,
			AccountID: account.ID,
			CreatedAt: a.now().UTC(),
		})
	}
	return results, nil
}

func (a *App) dispatchHistory(ctx context.Context, entry domain.SearchHistoryEntry) {
	logger := a.logger(ctx)
	ctx = context.WithoutCancel(ctx)
	if a.history != nil {
		if err := a.history.Enqueue(ctx, entry); err != nil {
			logger.Warn("history_enqueue_failed", "account_id", entry.AccountID, "err", err)
		}
		return
	}
	if err := a.store.AppendHistory(ctx, entry); err != nil {
		logger.Error("history_write_failed", "account_id", entry.AccountID, "err", err)
	}
}

// ImageSearchResult is the extracted query and its results.
type ImageSearchResult struct {
	Query   string
	Results []domain.SearchResult
}

// HandleImageSearch extracts text from an uploaded image or PDF and searches
// with it as an image-type query.
func (a *App) HandleImageSearch(ctx context.Context, filename string, r io.Reader, account *domain.Account) (ImageSearchResult, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return ImageSearchResult{}, invalid("File is required")
	}
	if !extract.Supported(filename) {
		return ImageSearchResult{}, invalid("Unsupported file type")
	}
	data, err := io.ReadAll(io.LimitReader(r, a.maxUploadBytes+1))
	if err != nil {
		return ImageSearchResult{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.maxUploadBytes {
		return ImageSearchResult{}, invalid("File too large")
	}
	if len(data) == 0 {
		return ImageSearchResult{}, invalid("File is empty")
	}

	text, err := a.extractor.Extract(ctx, filename, bytes.NewReader(data))
	switch {
	case errors.Is(err, extract.ErrNoText):
		return ImageSearchResult{}, invalid("No text found in file")
	case errors.Is(err, extract.ErrUnsupported):
		return ImageSearchResult{}, invalid("Unsupported file type")
	case errors.Is(err, extract.ErrTooLarge):
		return ImageSearchResult{}, invalid("File too large")
	case err != nil:
		return ImageSearchResult{}, fmt.Errorf("extract text: %w", err)
	}

	a.archiveUpload(ctx, filename, data, account)

	query := truncateRunes(text, maxQueryRunes)
	results, err := a.HandleSearch(ctx, query, string(domain.SearchImage), account)
	if err != nil {
		return ImageSearchResult{}, err
	}
	return ImageSearchResult{Query: query, Results: results}, nil
}

func (a *App) archiveUpload(ctx context.Context, filename string, data []byte, account *domain.Account) {
	if a.archive == nil {
		return
	}
	owner := ""
	if account != nil {
		owner = account.ID
	}
	key := storage.UploadKey(owner, util.NewID(), filename)
	contentType := http.DetectContentType(data)
	if err := a.archive.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		a.logger(ctx).Warn("upload_archive_failed", "key", key, "err", err)
	}
}

// truncateRunes cuts s to at most n runes, preferring a word boundary.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)[:n]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
