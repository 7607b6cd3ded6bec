package app

import (
	"context"
	"errors"
	"testing"

	"heartsearch/pkg/domain"
)

func TestSaveResultValidation(t *testing.T) {
	env := newTestEnv(t)
	acc := domain.Account{ID: "acc-1"}
	ctx := context.Background()

	cases := []SaveResultInput{
		{Summary: "s", Sources: []string{"a"}},
		{Title: "t", Sources: []string{"a"}},
		{Title: "t", Summary: "s"},
		{Title: "t", Summary: "s", Sources: []string{"  "}},
	}
	for i, in := range cases {
		if _, err := env.app.SaveResult(ctx, acc, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSavedResultsAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := domain.Account{ID: "owner"}
	other := domain.Account{ID: "other"}

	first, err := env.app.SaveResult(ctx, owner, SaveResultInput{Title: "A", Summary: "a", Sources: []string{"x"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := env.app.SaveResult(ctx, owner, SaveResultInput{Title: "B", Summary: "b", Sources: []string{"y", "z"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	list, err := env.app.ListSavedResults(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if otherList, _ := env.app.ListSavedResults(ctx, other); len(otherList) != 0 {
		t.Fatalf("expected other account to see nothing, got %d", len(otherList))
	}

	if err := env.app.DeleteSavedResult(ctx, other, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for non-owner, got %v", err)
	}
	if list, _ := env.app.ListSavedResults(ctx, owner); len(list) != 2 {
		t.Fatalf("expected non-owner delete to leave record, got %d", len(list))
	}
	if err := env.app.DeleteSavedResult(ctx, owner, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := env.app.DeleteSavedResult(ctx, owner, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.app.DeleteSavedResult(ctx, owner, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

func TestRecordHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := domain.Account{ID: "acc-1"}

	if _, err := env.app.RecordHistory(ctx, acc, "", "text"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.app.RecordHistory(ctx, acc, "q", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing type rejected, got %v", err)
	}
	if _, err := env.app.RecordHistory(ctx, acc, "q", "audio"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown type rejected, got %v", err)
	}

	older, err := env.app.RecordHistory(ctx, acc, "aortic stenosis", "text")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	newer, err := env.app.RecordHistory(ctx, acc, "ecg", "IMAGE")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if newer.Type != domain.SearchImage {
		t.Fatalf("expected image type, got %q", newer.Type)
	}
	list, err := env.app.ListHistory(ctx, acc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
}
