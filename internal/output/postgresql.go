// internal/output/postgresql.go
package output

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: dollarN,
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	method VARCHAR(32) NOT NULL,
	search_query VARCHAR(255) NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	response_time_ms BIGINT NOT NULL,
	success SMALLINT NOT NULL,
	error_message TEXT,
	created_at BIGINT NOT NULL
)`, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_method_created ON %s (method, created_at)", table, table),
		}
	},
}

// NewPostgreSQLUsageLog connects using a lib/pq connection string or URL.
func NewPostgreSQLUsageLog(ctx context.Context, connString, table string) (*SQLUsageLog, error) {
	if connString == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}

	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	log, err := newSQLUsageLog(ctx, db, table, postgresDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}
