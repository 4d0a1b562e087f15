package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "test.db"), "")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func record(link, provider, category string, impact int, createdAt string) *NewsRecord {
	return &NewsRecord{
		Title:       "News " + link,
		Summary:     "Résumé.",
		Provider:    provider,
		Service:     "S3",
		Category:    category,
		ImpactLevel: impact,
		Link:        link,
		RawSource:   provider,
		CreatedAt:   createdAt,
	}
}

func TestInsertAssignsDefaults(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := &NewsRecord{Title: "Test", Link: "https://example.com/a", IsSaved: true}
	if err := db.Insert(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected an id to be assigned")
	}
	if rec.CreatedAt == "" {
		t.Error("expected created_at to be assigned")
	}

	stored, err := db.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.IsSaved {
		t.Error("expected is_saved to be forced to false")
	}
	if stored.CreatedAt[len(stored.CreatedAt)-1] != 'Z' {
		t.Errorf("expected UTC timestamp, got %q", stored.CreatedAt)
	}
}

func TestInsertKeepsCreatedAt(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := record("https://example.com/old", "AWS", "Storage", 1, "2025-01-02T03:04:05.000000Z")
	if err := db.Insert(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := db.Get(ctx, rec.ID)
	if stored.CreatedAt != "2025-01-02T03:04:05.000000Z" {
		t.Errorf("expected created_at to be preserved, got %q", stored.CreatedAt)
	}
}

func TestExists(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	exists, err := db.Exists(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected link to be absent")
	}

	db.Insert(ctx, record("https://example.com/a", "AWS", "Compute", 2, ""))

	exists, err = db.Exists(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected link to be present")
	}
}

func TestInsertDoesNotEnforceUniqueLink(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Insert(ctx, record("https://example.com/dup", "AWS", "ML", 1, "")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := db.Insert(ctx, record("https://example.com/dup", "AWS", "ML", 1, "")); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	all, _ := db.List(ctx, 10)
	if len(all) != 2 {
		t.Errorf("expected 2 records, got %d", len(all))
	}
}

func TestListNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	db.Insert(ctx, record("https://a.com", "AWS", "ML", 1, "2026-02-01T10:00:00.000000Z"))
	db.Insert(ctx, record("https://c.com", "GCP", "ML", 1, "2026-02-03T10:00:00.000000Z"))
	db.Insert(ctx, record("https://b.com", "Azure", "ML", 1, "2026-02-02T10:00:00.000000Z"))

	records, err := db.List(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Link != "https://c.com" || records[1].Link != "https://b.com" {
		t.Errorf("unexpected order: %s, %s", records[0].Link, records[1].Link)
	}
}

func TestListEmpty(t *testing.T) {
	db := openTestDB(t)

	records, err := db.List(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", records)
	}
}

func TestToggleSavedRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := record("https://a.com", "AWS", "ML", 1, "")
	db.Insert(ctx, rec)

	saved, err := db.ToggleSaved(ctx, rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !saved {
		t.Error("expected first toggle to save")
	}

	saved, err = db.ToggleSaved(ctx, rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved {
		t.Error("expected second toggle to unsave")
	}

	stored, _ := db.Get(ctx, rec.ID)
	if stored.IsSaved {
		t.Error("expected stored is_saved to be false after two toggles")
	}
}

func TestToggleSavedUnknownID(t *testing.T) {
	db := openTestDB(t)

	saved, err := db.ToggleSaved(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if saved {
		t.Error("expected false for unknown id")
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	db.Insert(ctx, record("https://1", "AWS", "Storage", 3, "2026-02-01T08:00:00.000000Z"))
	db.Insert(ctx, record("https://2", "AWS", "Compute", 1, "2026-02-01T09:00:00.000000Z"))
	db.Insert(ctx, record("https://3", "GCP", "Storage", 3, "2026-02-02T08:00:00.000000Z"))
	db.Insert(ctx, record("https://4", "Azure", "", 2, "2026-02-03T08:00:00.000000Z"))

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalNews != 4 {
		t.Errorf("expected total 4, got %d", stats.TotalNews)
	}
	if stats.CriticalNews != 2 {
		t.Errorf("expected 2 critical, got %d", stats.CriticalNews)
	}
	if stats.ActiveProvider != "AWS" {
		t.Errorf("expected active provider AWS, got %q", stats.ActiveProvider)
	}
	if stats.ProvidersStats["GCP"] != 1 {
		t.Errorf("expected GCP count 1, got %d", stats.ProvidersStats["GCP"])
	}
	if stats.CategoriesStats["Storage"] != 2 || stats.CategoriesStats["Other"] != 1 {
		t.Errorf("unexpected categories: %v", stats.CategoriesStats)
	}
	if stats.TimelineStats["2026-02-01"] != 2 || stats.TimelineStats["2026-02-03"] != 1 {
		t.Errorf("unexpected timeline: %v", stats.TimelineStats)
	}
}

func TestStatsEmpty(t *testing.T) {
	db := openTestDB(t)

	stats, err := db.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalNews != 0 || stats.ActiveProvider != "N/A" {
		t.Errorf("unexpected empty stats: %+v", stats)
	}
}

func TestClosedDBReturnsErrors(t *testing.T) {
	db := openTestDB(t)
	db.Close()
	ctx := context.Background()

	if _, err := db.Exists(ctx, "https://a.com"); err == nil {
		t.Error("expected Exists error on closed db")
	}
	if _, err := db.List(ctx, 10); err == nil {
		t.Error("expected List error on closed db")
	}
	if _, err := db.Stats(ctx); err == nil {
		t.Error("expected Stats error on closed db")
	}
}
