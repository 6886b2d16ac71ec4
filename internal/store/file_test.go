package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/agent-desk/internal/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "memory.json"), nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s
}

func nvdaParams() AddParams {
	return AddParams{
		Type:        model.TypeAction,
		Category:    "finance",
		Description: "Checked NVDA stock price",
		Details:     map[string]any{"stock_symbol": "NVDA"},
		Tags:        []string{"stock", "nvda"},
	}
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mem, err := s.Add(ctx, nvdaParams())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if mem.ID == "" {
		t.Error("expected non-empty ID")
	}
	if mem.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	got, err := s.Get(ctx, mem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(*got, *mem) {
		t.Errorf("stored entry differs:\n got %+v\nwant %+v", *got, *mem)
	}
}

func TestAddDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mem, err := s.Add(ctx, AddParams{Type: model.TypeContext, Description: "  likes window seats  "})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if mem.Category != model.DefaultCategory {
		t.Errorf("expected category %q, got %q", model.DefaultCategory, mem.Category)
	}
	if mem.Description != "likes window seats" {
		t.Errorf("expected trimmed description, got %q", mem.Description)
	}
	if mem.Tags == nil || mem.RelatedQueries == nil || mem.Details == nil {
		t.Error("expected empty collections, not nil")
	}
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Add(ctx, AddParams{Type: model.TypeAction, Description: "   "})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry for blank description, got %v", err)
	}
	_, err = s.Add(ctx, AddParams{Type: "episodic", Description: "x"})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected ErrInvalidEntry for unknown type, got %v", err)
	}
}

func TestUniqueIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		m, err := s.Add(ctx, AddParams{Type: model.TypeAction, Description: "task"})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestAllPreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, d := range []string{"first", "second", "third"} {
		s.Add(ctx, AddParams{Type: model.TypeAction, Description: d})
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	for i, d := range []string{"first", "second", "third"} {
		if all[i].Description != d {
			t.Errorf("position %d: expected %q, got %q", i, d, all[i].Description)
		}
	}
}

func TestAllMissingFile(t *testing.T) {
	s := newTestStore(t)
	all, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Errorf("expected empty slice, got %v", all)
	}
}

func TestAllCorruptFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty store, got %d entries", len(all))
	}

	// A write after corruption replaces the document.
	if _, err := s.Add(ctx, nvdaParams()); err != nil {
		t.Fatalf("add after corruption: %v", err)
	}
	all, _ = s.All(ctx)
	if len(all) != 1 {
		t.Errorf("expected 1 entry, got %d", len(all))
	}
}

func TestPersistedEnvelope(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Add(ctx, nvdaParams())

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastUpdated.IsZero() {
		t.Error("expected lastUpdated to be set")
	}

	data, _ := os.ReadFile(s.Path())
	for _, key := range []string{`"entries"`, `"lastUpdated"`, `"version"`, `"relatedQueries"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected %s in persisted document", key)
		}
	}
}

func TestUpdateDescriptionOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	orig, _ := s.Add(ctx, nvdaParams())

	desc := "X"
	updated, err := s.Update(ctx, orig.ID, UpdateParams{Description: &desc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	want := *orig
	want.Description = "X"
	if !reflect.DeepEqual(*updated, want) {
		t.Errorf("update changed more than description:\n got %+v\nwant %+v", *updated, want)
	}
	got, _ := s.Get(ctx, orig.ID)
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("persisted entry mismatch:\n got %+v\nwant %+v", *got, want)
	}
}

func TestUpdateTimestampOverride(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	orig, _ := s.Add(ctx, nvdaParams())

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	updated, err := s.Update(ctx, orig.ID, UpdateParams{Timestamp: &ts})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, updated.Timestamp)
	}
	if updated.ID != orig.ID {
		t.Error("id must not change")
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	desc := "X"
	_, err := s.Update(context.Background(), "missing", UpdateParams{Description: &desc})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, _ := s.Add(ctx, AddParams{Type: model.TypeAction, Description: "a"})
	b, _ := s.Add(ctx, AddParams{Type: model.TypeAction, Description: "b"})

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.Get(ctx, b.ID); err != nil {
		t.Errorf("other entry should survive: %v", err)
	}
	if err := s.Delete(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Add(ctx, nvdaParams())
	s.Add(ctx, AddParams{Type: model.TypeInformation, Category: "finance", Description: "NVDA closed at 120", Tags: []string{"stock"}})
	s.Add(ctx, AddParams{Type: model.TypePreference, Category: "travel", Description: "Prefers aisle seats", Tags: []string{"Flights"}})

	byCat, _ := s.ByCategory(ctx, "FINANCE")
	if len(byCat) != 2 {
		t.Errorf("expected 2 finance entries, got %d", len(byCat))
	}
	byTag, _ := s.ByTag(ctx, "stock")
	if len(byTag) != 2 {
		t.Errorf("expected 2 stock entries, got %d", len(byTag))
	}
	byTag, _ = s.ByTag(ctx, "flights")
	if len(byTag) != 1 {
		t.Errorf("expected case-insensitive tag match, got %d", len(byTag))
	}
	byType, _ := s.ByType(ctx, model.TypePreference)
	if len(byType) != 1 {
		t.Errorf("expected 1 preference, got %d", len(byType))
	}
	limited, _ := s.List(ctx, ListParams{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}

func TestStoreCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "dir", "memory.json")
	s, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, err := s.Add(context.Background(), nvdaParams()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("expected memory file to be created")
	}
}
