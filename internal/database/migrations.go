package database

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
// Statements must stay portable between SQLite and Postgres.
var migrations = []Migration{
	{
		Version:     1,
		Description: "news table",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS news (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL DEFAULT '',
    service TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    impact_level INTEGER NOT NULL DEFAULT 1,
    impact_analysis TEXT NOT NULL DEFAULT '',
    link TEXT NOT NULL,
    raw_source TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    is_saved BOOLEAN NOT NULL DEFAULT FALSE
)`,
			// link is looked up on every scan item; uniqueness is checked by the
			// scan, not enforced here.
			`CREATE INDEX IF NOT EXISTS idx_news_link ON news(link)`,
			`CREATE INDEX IF NOT EXISTS idx_news_created_at ON news(created_at)`,
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
