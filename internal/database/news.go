package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var newsColumns = []string{
	"id", "title", "summary", "provider", "service", "category", "impact_level",
	"impact_analysis", "link", "raw_source", "created_at", "is_saved",
}

// Exists reports whether a record with the given link is already stored.
func (db *DB) Exists(ctx context.Context, link string) (bool, error) {
	query, args, err := db.sb.Select("1").From("news").Where(sq.Eq{"link": link}).Limit(1).ToSql()
	if err != nil {
		return false, err
	}

	var one int
	err = db.conn.GetContext(ctx, &one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking link: %w", err)
	}
	return true, nil
}

// Insert stores a record. It assigns an id and created_at when absent and
// always stores is_saved=false. Links are not checked for uniqueness here.
func (db *DB) Insert(ctx context.Context, rec *NewsRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = formatTime(time.Now())
	}
	rec.IsSaved = false

	query, args, err := db.sb.Insert("news").
		Columns(newsColumns...).
		Values(rec.ID, rec.Title, rec.Summary, rec.Provider, rec.Service, rec.Category, rec.ImpactLevel,
			rec.ImpactAnalysis, rec.Link, rec.RawSource, rec.CreatedAt, rec.IsSaved).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting news: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first.
func (db *DB) List(ctx context.Context, limit int) ([]NewsRecord, error) {
	if limit <= 0 {
		return []NewsRecord{}, nil
	}

	query, args, err := db.sb.Select(newsColumns...).From("news").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	records := []NewsRecord{}
	if err := db.conn.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("listing news: %w", err)
	}
	return records, nil
}

// Get returns a single record by id.
func (db *DB) Get(ctx context.Context, id string) (*NewsRecord, error) {
	query, args, err := db.sb.Select(newsColumns...).From("news").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var rec NewsRecord
	err = db.conn.GetContext(ctx, &rec, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting news %s: %w", id, err)
	}
	return &rec, nil
}

// ToggleSaved flips is_saved for the record and returns the new value.
func (db *DB) ToggleSaved(ctx context.Context, id string) (bool, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query, args, err := db.sb.Select("is_saved").From("news").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, err
	}
	var current bool
	err = tx.GetContext(ctx, &current, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("reading is_saved: %w", err)
	}

	next := !current
	query, args, err = db.sb.Update("news").Set("is_saved", next).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("updating is_saved: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return next, nil
}

// Stats aggregates counts over all records. The active provider is the most
// frequent one; ties go to the provider seen first in the backend's row
// order, which is not guaranteed to be stable.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	query, args, err := db.sb.Select("provider", "impact_level", "category", "created_at").From("news").ToSql()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Provider    string `db:"provider"`
		ImpactLevel int    `db:"impact_level"`
		Category    string `db:"category"`
		CreatedAt   string `db:"created_at"`
	}
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	stats := &Stats{
		TotalNews:       len(rows),
		ActiveProvider:  "N/A",
		ProvidersStats:  map[string]int{},
		CategoriesStats: map[string]int{},
		TimelineStats:   map[string]int{},
	}

	var providerOrder []string
	for _, r := range rows {
		if r.ImpactLevel == 3 {
			stats.CriticalNews++
		}
		if _, seen := stats.ProvidersStats[r.Provider]; !seen {
			providerOrder = append(providerOrder, r.Provider)
		}
		stats.ProvidersStats[r.Provider]++

		category := r.Category
		if category == "" {
			category = "Other"
		}
		stats.CategoriesStats[category]++

		if day, _, _ := strings.Cut(r.CreatedAt, "T"); day != "" {
			stats.TimelineStats[day]++
		}
	}

	best := 0
	for _, p := range providerOrder {
		if n := stats.ProvidersStats[p]; n > best {
			best = n
			stats.ActiveProvider = p
		}
	}

	return stats, nil
}
