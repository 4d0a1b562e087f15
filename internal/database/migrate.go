package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`

// schemaVersion returns the highest applied migration, 0 for a fresh database.
func schemaVersion(ctx context.Context, db *DB) (int, error) {
	query, args, err := db.sb.Select("COALESCE(MAX(version), 0)").From("schema_migrations").ToSql()
	if err != nil {
		return 0, err
	}
	var version int
	if err := db.conn.GetContext(ctx, &version, query, args...); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate brings the database schema up to the latest version.
// Applied versions are recorded in schema_migrations, which works for both
// SQLite and Postgres.
func migrate(ctx context.Context, db *DB) error {
	if _, err := db.conn.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current >= latestVersion() {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		zap.L().Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := db.conn.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
		}

		query, args, err := db.sb.Insert("schema_migrations").
			Columns("version", "description", "applied_at").
			Values(m.Version, m.Description, formatTime(time.Now())).
			ToSql()
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
