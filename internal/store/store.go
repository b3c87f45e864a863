// Package store persists conversations, turns and the query audit trail.
//
// It writes to the primary database, never to the read-only replica the agent queries.
// SQLite (modernc.org/sqlite) and Postgres (pgx) are supported; statements are written
// with ? placeholders and rebound for Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("not found")

// Flavor identifies the SQL dialect of the primary database.
type Flavor string

const (
	FlavorSQLite   Flavor = "sqlite"
	FlavorPostgres Flavor = "postgres"
)

// ParseFlavor maps a driver name to a Flavor.
func ParseFlavor(driver string) (Flavor, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return FlavorSQLite, nil
	case "postgres", "postgresql", "pgx":
		return FlavorPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Config describes the primary database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Store is the persistence sink. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	flavor Flavor
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at values.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an open database handle.
func New(db *sql.DB, flavor Flavor, opts ...Option) *Store {
	s := &Store{db: db, flavor: flavor, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the primary database and verifies the connection.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	flavor, err := ParseFlavor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}

	var db *sql.DB
	switch flavor {
	case FlavorSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(cfg.DSN))
	case FlavorPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if flavor == FlavorSQLite {
		// A single writer avoids SQLITE_BUSY between concurrent requests.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	s := New(db, flavor, opts...)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Flavor reports the SQL dialect in use.
func (s *Store) Flavor() Flavor {
	return s.flavor
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the chat tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.flavor == FlavorPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_session (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS chat_message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES chat_session(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT,
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS chat_message_session_created ON chat_message(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS chat_query_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT REFERENCES chat_session(id) ON DELETE SET NULL,
	user_question TEXT NOT NULL,
	generated_sql TEXT NOT NULL,
	sanitized_sql TEXT,
	execution_time_ms INTEGER,
	row_count INTEGER,
	error TEXT,
	created_at TIMESTAMP NOT NULL
)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_session (
	id UUID PRIMARY KEY,
	title VARCHAR(255) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS chat_message (
	id BIGSERIAL PRIMARY KEY,
	session_id UUID NOT NULL REFERENCES chat_session(id) ON DELETE CASCADE,
	role VARCHAR(20) NOT NULL,
	content TEXT NOT NULL,
	status VARCHAR(20),
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS chat_message_session_created ON chat_message(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS chat_query_audit (
	id BIGSERIAL PRIMARY KEY,
	session_id UUID REFERENCES chat_session(id) ON DELETE SET NULL,
	user_question TEXT NOT NULL,
	generated_sql TEXT NOT NULL,
	sanitized_sql TEXT,
	execution_time_ms INTEGER,
	row_count INTEGER,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL
)`,
}

// rebind rewrites ? placeholders to $n for Postgres. Statements in this package
// never contain a literal question mark.
func (s *Store) rebind(query string) string {
	if s.flavor != FlavorPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
