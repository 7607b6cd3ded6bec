package app

import (
	"context"
	"fmt"
	"strings"

	"heartsearch/internal/util"
	"heartsearch/pkg/domain"
)

type SaveResultInput struct {
	Title   string
	Summary string
	Sources []string
}

// SaveResult stores a search result under account.
func (a *App) SaveResult(ctx context.Context, account domain.Account, in SaveResultInput) (domain.SavedResult, error) {
	title := strings.TrimSpace(in.Title)
	summary := strings.TrimSpace(in.Summary)
	sources := make([]string, 0, len(in.Sources))
	for _, s := range in.Sources {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}
	if title == "" || summary == "" || len(sources) == 0 {
		return domain.SavedResult{}, invalid("Missing required fields")
	}
	res := domain.SavedResult{
		ID:        util.NewID(),
		Title:     title,
		Summary:   summary,
		Sources:   sources,
		AccountID: account.ID,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.SaveResult(ctx, res); err != nil {
		return domain.SavedResult{}, fmt.Errorf("save result: %w", err)
	}
	return res, nil
}

// ListSavedResults returns account's saved results, newest first.
func (a *App) ListSavedResults(ctx context.Context, account domain.Account) ([]domain.SavedResult, error) {
	res, err := a.store.ListSavedResults(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("list saved results: %w", err)
	}
	return res, nil
}

// DeleteSavedResult removes a saved result. Results owned by someone else
// are reported exactly like missing ones.
func (a *App) DeleteSavedResult(ctx context.Context, account domain.Account, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return invalid("Result ID is required")
	}
	if _, ok, err := a.store.GetSavedResult(ctx, id, account.ID); err != nil {
		return fmt.Errorf("fetch saved result: %w", err)
	} else if !ok {
		return notFound("Result not found")
	}
	deleted, err := a.store.DeleteSavedResult(ctx, id, account.ID)
	if err != nil {
		return fmt.Errorf("delete saved result: %w", err)
	}
	if !deleted {
		return notFound("Result not found")
	}
	return nil
}

// RecordHistory appends an explicit history entry for account.
func (a *App) RecordHistory(ctx context.Context, account domain.Account, query, searchType string) (domain.SearchHistoryEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" || strings.TrimSpace(searchType) == "" {
		return domain.SearchHistoryEntry{}, invalid("Missing required fields")
	}
	typ, ok := domain.ParseSearchType(searchType)
	if !ok {
		return domain.SearchHistoryEntry{}, invalid("Unknown search type")
	}
	entry := domain.SearchHistoryEntry{
		ID:        util.NewID(),
		Query:     query,
		Type:      typ,
		AccountID: account.ID,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.AppendHistory(ctx, entry); err != nil {
		return domain.SearchHistoryEntry{}, fmt.Errorf("record history: %w", err)
	}
	return entry, nil
}

// ListHistory returns account's search history, newest first.
func (a *App) ListHistory(ctx context.Context, account domain.Account) ([]domain.SearchHistoryEntry, error) {
	res, err := a.store.ListHistory(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return res, nil
}
