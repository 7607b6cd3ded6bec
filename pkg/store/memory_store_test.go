package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"heartsearch/pkg/domain"
)

func newAccount(id, email, username string) domain.Account {
	token := "a1b2c3"
	now := time.Now().UTC()
	return domain.Account{
		ID:                  id,
		Email:               email,
		Username:            username,
		FirstName:           "Ada",
		LastName:            "Lovelace",
		PasswordHash:        "hash",
		VerifyToken:         &token,
		VerifyTokenIssuedAt: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestMemoryStoreAccountUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateAccount(ctx, newAccount("a1", "ada@example.com", "ada")); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := s.CreateAccount(ctx, newAccount("a2", "ada@example.com", "other")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate email, got: %v", err)
	}
	if err := s.CreateAccount(ctx, newAccount("a3", "other@example.com", "ada")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate username, got: %v", err)
	}

	if _, ok, _ := s.FindAccountByEmailOrUsername(ctx, "nobody@example.com", "ada"); !ok {
		t.Fatalf("expected username match")
	}
	if _, ok, _ := s.FindAccountByEmailOrUsername(ctx, "ada@example.com", "nobody"); !ok {
		t.Fatalf("expected email match")
	}
	if _, ok, _ := s.FindAccountByEmailOrUsername(ctx, "nobody@example.com", "nobody"); ok {
		t.Fatalf("expected no match")
	}
}

func TestMemoryStoreMarkEmailVerifiedClearsToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateAccount(ctx, newAccount("a1", "ada@example.com", "ada")); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := s.MarkEmailVerified(ctx, "a1", time.Now()); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	got, ok, err := s.GetAccountByEmail(ctx, "ada@example.com")
	if err != nil || !ok {
		t.Fatalf("get account: ok=%v err=%v", ok, err)
	}
	if !got.EmailVerified || got.VerifyToken != nil || got.VerifyTokenIssuedAt != nil {
		t.Fatalf("expected verified account without token, got %+v", got)
	}
	if err := s.MarkEmailVerified(ctx, "missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
}

func TestMemoryStoreListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.SearchHistoryEntry{
		{ID: "h1", Query: "first", Type: domain.SearchText, AccountID: "a1", CreatedAt: base},
		{ID: "h3", Query: "third", Type: domain.SearchImage, AccountID: "a1", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "h2", Query: "tie-low", Type: domain.SearchText, AccountID: "a1", CreatedAt: base.Add(time.Minute)},
		{ID: "h4", Query: "tie-high", Type: domain.SearchText, AccountID: "a1", CreatedAt: base.Add(time.Minute)},
		{ID: "h9", Query: "other account", Type: domain.SearchText, AccountID: "a2", CreatedAt: base},
	}
	for _, e := range entries {
		if err := s.AppendHistory(ctx, e); err != nil {
			t.Fatalf("append history: %v", err)
		}
	}
	got, err := s.ListHistory(ctx, "a1")
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	want := []string{"h3", "h4", "h2", "h1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("entry %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	empty, err := s.ListHistory(ctx, "nobody")
	if err != nil {
		t.Fatalf("list empty history: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestMemoryStoreSavedResultOwnership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := domain.SavedResult{
		ID:        "r1",
		Title:     "Statins and outcomes",
		Summary:   "No abstract available",
		Sources:   []string{"https://heart.example/research/1"},
		AccountID: "owner",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("save result: %v", err)
	}
	if _, ok, _ := s.GetSavedResult(ctx, "r1", "intruder"); ok {
		t.Fatalf("expected non-owner lookup to miss")
	}
	deleted, err := s.DeleteSavedResult(ctx, "r1", "intruder")
	if err != nil {
		t.Fatalf("delete as intruder: %v", err)
	}
	if deleted {
		t.Fatalf("expected non-owner delete to be a no-op")
	}
	list, _ := s.ListSavedResults(ctx, "owner")
	if len(list) != 1 {
		t.Fatalf("expected record intact, got %d", len(list))
	}
	deleted, err = s.DeleteSavedResult(ctx, "r1", "owner")
	if err != nil || !deleted {
		t.Fatalf("owner delete: deleted=%v err=%v", deleted, err)
	}
	list, _ = s.ListSavedResults(ctx, "owner")
	if len(list) != 0 {
		t.Fatalf("expected no results after delete, got %d", len(list))
	}
}

func TestMemoryStoreSessionsAndProviderLinks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateAccount(ctx, newAccount("a1", "ada@example.com", "ada")); err != nil {
		t.Fatalf("create account: %v", err)
	}
	sess := domain.Session{SessionToken: "tok", AccountID: "a1", Expires: time.Now().Add(time.Hour)}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.CreateSession(ctx, sess); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate session token, got: %v", err)
	}
	later := time.Now().Add(2 * time.Hour)
	updated, err := s.UpdateSessionExpiry(ctx, "tok", later)
	if err != nil {
		t.Fatalf("update session: %v", err)
	}
	if !updated.Expires.Equal(later.UTC()) {
		t.Fatalf("expected expiry moved, got %v", updated.Expires)
	}

	link := domain.ProviderLink{ID: "l1", AccountID: "a1", Type: "oauth", Provider: "github", ProviderAccountID: "42"}
	if err := s.LinkProvider(ctx, link); err != nil {
		t.Fatalf("link provider: %v", err)
	}
	if err := s.LinkProvider(ctx, link); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate link, got: %v", err)
	}
	acc, ok, err := s.GetAccountByProvider(ctx, "github", "42")
	if err != nil || !ok || acc.ID != "a1" {
		t.Fatalf("get by provider: ok=%v err=%v id=%q", ok, err, acc.ID)
	}

	if err := s.DeleteAccount(ctx, "a1"); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, ok, _ := s.GetSession(ctx, "tok"); ok {
		t.Fatalf("expected session removed with account")
	}
	if _, ok, _ := s.GetAccountByProvider(ctx, "github", "42"); ok {
		t.Fatalf("expected provider link removed with account")
	}
}
