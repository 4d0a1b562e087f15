package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps the news store connection. The same queries serve SQLite and
// Postgres; only the placeholder format differs.
type DB struct {
	conn   *sqlx.DB
	sb     sq.StatementBuilderType
	driver string
}

// Open connects to the store. For sqlite, dsn is a file path; for postgres it
// is a connection URL or key/value DSN and key is the password.
func Open(ctx context.Context, driver, dsn, key string) (*DB, error) {
	driver = strings.ToLower(driver)

	var (
		conn *sqlx.DB
		err  error
	)
	switch driver {
	case DriverSQLite:
		conn, err = openSQLite(ctx, dsn)
	case DriverPostgres:
		conn, err = sqlx.ConnectContext(ctx, DriverPostgres, withPassword(dsn, key))
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, driver: driver, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if driver == DriverPostgres {
		db.sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}

	if err := migrate(ctx, db); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return db, nil
}

func openSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	conn, err := sqlx.ConnectContext(ctx, DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps writers serialized and makes :memory: usable.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	return conn, nil
}

var pqEscaper = strings.NewReplacer(`\`, `\\`, "'", `\'`)

// withPassword injects the credential into a postgres DSN.
func withPassword(dsn, key string) string {
	if key == "" {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		user := "postgres"
		if u.User != nil && u.User.Username() != "" {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, key)
		return u.String()
	}
	return strings.TrimSpace(dsn) + " password='" + pqEscaper.Replace(key) + "'"
}

// Driver returns the storage driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the backend is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
