package executor

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour of the replica.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "duckdb":
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported replica driver %q", driver)
	}
}

func (d Dialect) busyTimeoutStatement(timeout time.Duration) string {
	ms := timeout.Milliseconds()
	switch d {
	case DialectSQLite:
		return fmt.Sprintf("PRAGMA busy_timeout = %d", ms)
	case DialectPostgres:
		return fmt.Sprintf("SET lock_timeout = '%dms'", ms)
	default:
		return ""
	}
}

// ReplicaConfig describes the read-only data connection.
type ReplicaConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// OpenReplica opens the replica with a read-only session for every supported driver.
func OpenReplica(ctx context.Context, cfg ReplicaConfig) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, "", fmt.Errorf("replica dsn is required")
	}

	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", readOnlySQLiteDSN(cfg.DSN))
	case DialectPostgres:
		var connCfg *pgx.ConnConfig
		connCfg, err = pgx.ParseConfig(cfg.DSN)
		if err == nil {
			connCfg.RuntimeParams["default_transaction_read_only"] = "on"
			db = stdlib.OpenDB(*connCfg)
		}
	case DialectDuckDB:
		db, err = sql.Open("duckdb", withQueryParam(cfg.DSN, "access_mode", "READ_ONLY"))
	}
	if err != nil {
		return nil, "", fmt.Errorf("open replica: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping replica: %w", err)
	}
	return db, dialect, nil
}

func readOnlySQLiteDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	dsn = withQueryParam(dsn, "mode", "ro")
	return withQueryParam(dsn, "_pragma", "query_only(1)")
}

func withQueryParam(dsn, key, value string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + url.QueryEscape(value)
}
