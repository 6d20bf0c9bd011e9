// internal/output/sql.go
package output

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name        string
	placeholder func(n int) string
	schema      func(table string) []string
}

func questionMark(int) string { return "?" }

func dollarN(n int) string { return fmt.Sprintf("$%d", n) }

const usageColumns = "id, method, search_query, result_count, response_time_ms, success, error_message, created_at"

// SQLUsageLog stores usage records in a relational table. Timestamps are
// unix milliseconds and success is 0 or 1 so the same queries run on every
// backend.
type SQLUsageLog struct {
	db      *sql.DB
	table   string
	dialect dialect
}

func newSQLUsageLog(ctx context.Context, db *sql.DB, table string, d dialect) (*SQLUsageLog, error) {
	for _, stmt := range d.schema(table) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s usage table: %w", d.name, err)
		}
	}
	return &SQLUsageLog{db: db, table: table, dialect: d}, nil
}

func (l *SQLUsageLog) placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = l.dialect.placeholder(i + 1)
	}
	return strings.Join(marks, ", ")
}

// Append implements UsageLog.
func (l *SQLUsageLog) Append(ctx context.Context, rec UsageRecord) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", l.table, usageColumns, l.placeholders(8))

	var errMsg sql.NullString
	if rec.ErrorMessage != "" {
		errMsg = sql.NullString{String: rec.ErrorMessage, Valid: true}
	}
	success := 0
	if rec.Success {
		success = 1
	}

	_, err := l.db.ExecContext(ctx, query,
		rec.ID,
		rec.Method,
		rec.Query,
		rec.ResultCount,
		rec.ResponseTime.Milliseconds(),
		success,
		errMsg,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// Aggregate implements UsageLog.
func (l *SQLUsageLog) Aggregate(ctx context.Context, since time.Time) ([]MethodAggregate, error) {
	query := fmt.Sprintf(`SELECT method, COUNT(*), SUM(success), AVG(response_time_ms), AVG(result_count), MAX(created_at)
FROM %s WHERE created_at >= %s GROUP BY method ORDER BY method`, l.table, l.dialect.placeholder(1))

	rows, err := l.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage records: %w", err)
	}
	defer rows.Close()

	var out []MethodAggregate
	for rows.Next() {
		var (
			agg        MethodAggregate
			successful sql.NullInt64
			avgMillis  sql.NullFloat64
			avgResults sql.NullFloat64
			lastUsed   sql.NullInt64
		)
		if err := rows.Scan(&agg.Method, &agg.TotalRequests, &successful, &avgMillis, &avgResults, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan usage aggregate: %w", err)
		}
		agg.SuccessfulRequests = successful.Int64
		agg.AvgResponseTime = time.Duration(avgMillis.Float64 * float64(time.Millisecond))
		agg.AvgResultCount = avgResults.Float64
		if lastUsed.Valid {
			agg.LastUsed = time.UnixMilli(lastUsed.Int64)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// Recent implements UsageLog.
func (l *SQLUsageLog) Recent(ctx context.Context, since time.Time, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE created_at >= %s ORDER BY created_at DESC LIMIT %d",
		usageColumns, l.table, l.dialect.placeholder(1), limit)

	rows, err := l.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var (
			rec       UsageRecord
			millis    int64
			success   int
			errMsg    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Method, &rec.Query, &rec.ResultCount, &millis, &success, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.ResponseTime = time.Duration(millis) * time.Millisecond
		rec.Success = success != 0
		rec.ErrorMessage = errMsg.String
		rec.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping implements UsageLog.
func (l *SQLUsageLog) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close implements UsageLog.
func (l *SQLUsageLog) Close() error {
	return l.db.Close()
}

// DB exposes the underlying handle.
func (l *SQLUsageLog) DB() *sql.DB {
	return l.db
}
