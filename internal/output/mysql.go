// internal/output/mysql.go
package output

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name:        "mysql",
	placeholder: questionMark,
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	method VARCHAR(32) NOT NULL,
	search_query VARCHAR(255) NOT NULL,
	result_count INT NOT NULL DEFAULT 0,
	response_time_ms BIGINT NOT NULL,
	success TINYINT NOT NULL,
	error_message TEXT,
	created_at BIGINT NOT NULL,
	INDEX idx_%s_method_created (method, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, table, table),
		}
	},
}

// NewMySQLUsageLog connects using a go-sql-driver DSN. Connection and IO
// timeouts are filled in when the DSN leaves them unset.
func NewMySQLUsageLog(ctx context.Context, dsn, table string) (*SQLUsageLog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("MySQL DSN is required")
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	log, err := newSQLUsageLog(ctx, db, table, mysqlDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}
