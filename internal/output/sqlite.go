// internal/output/sqlite.go
package output

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: questionMark,
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	method TEXT NOT NULL,
	search_query TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	error_message TEXT,
	created_at INTEGER NOT NULL
)`, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_method_created ON %s (method, created_at)", table, table),
		}
	},
}

// NewSQLiteUsageLog opens (or creates) a SQLite database file.
func NewSQLiteUsageLog(ctx context.Context, path, table string) (*SQLUsageLog, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLite database path is required")
	}

	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = memory",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	log, err := newSQLUsageLog(ctx, db, table, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}
