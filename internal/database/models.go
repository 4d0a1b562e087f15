package database

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// timeLayout is fixed-width ISO-8601 so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// NewsRecord is a persisted, AI-analyzed cloud news item.
type NewsRecord struct {
	ID             string `db:"id" json:"id"`
	Title          string `db:"title" json:"title"`
	Summary        string `db:"summary" json:"summary"`
	Provider       string `db:"provider" json:"provider"`
	Service        string `db:"service" json:"service"`
	Category       string `db:"category" json:"category"`
	ImpactLevel    int    `db:"impact_level" json:"impact_level"`
	ImpactAnalysis string `db:"impact_analysis" json:"impact_analysis"`
	Link           string `db:"link" json:"link"`
	RawSource      string `db:"raw_source" json:"raw_source"`
	CreatedAt      string `db:"created_at" json:"created_at"`
	IsSaved        bool   `db:"is_saved" json:"is_saved"`
}

// Stats contains aggregate statistics over all records.
type Stats struct {
	TotalNews       int            `json:"total_news"`
	CriticalNews    int            `json:"critical_news"`
	ActiveProvider  string         `json:"active_provider"`
	ProvidersStats  map[string]int `json:"providers_stats"`
	CategoriesStats map[string]int `json:"categories_stats"`
	TimelineStats   map[string]int `json:"timeline_stats"`
}

// EmptyStats is the degraded shape served when the backend cannot be read.
func EmptyStats() *Stats {
	return &Stats{
		ActiveProvider:  "-",
		ProvidersStats:  map[string]int{},
		CategoriesStats: map[string]int{},
		TimelineStats:   map[string]int{},
	}
}
