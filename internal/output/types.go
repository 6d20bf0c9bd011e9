// internal/output/types.go

// Package output persists the per-attempt usage log and renders statistics
// reports. The usage log is append-only and only read back for reporting.
package output

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/valpere/vinparts/internal/config"
)

// UsageRecord is one strategy attempt.
type UsageRecord struct {
	ID           string        `json:"id"`
	Method       string        `json:"method"`
	Query        string        `json:"query"`
	ResultCount  int           `json:"result_count"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// MethodAggregate summarises a method's records inside a reporting window.
type MethodAggregate struct {
	Method             string
	TotalRequests      int64
	SuccessfulRequests int64
	AvgResponseTime    time.Duration
	AvgResultCount     float64
	LastUsed           time.Time
}

// UsageLog is the persistent attempt log.
type UsageLog interface {
	// Append stores one record.
	Append(ctx context.Context, rec UsageRecord) error
	// Aggregate groups records created at or after since by method.
	Aggregate(ctx context.Context, since time.Time) ([]MethodAggregate, error)
	// Recent returns up to limit records created at or after since, newest first.
	Recent(ctx context.Context, since time.Time, limit int) ([]UsageRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Open creates the usage log selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (UsageLog, error) {
	if !identifierPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid usage log table name %q", cfg.Table)
	}

	switch cfg.Driver {
	case "sqlite3":
		return NewSQLiteUsageLog(ctx, cfg.DSN, cfg.Table)
	case "postgres":
		return NewPostgreSQLUsageLog(ctx, cfg.DSN, cfg.Table)
	case "mysql":
		return NewMySQLUsageLog(ctx, cfg.DSN, cfg.Table)
	case "mongodb":
		return NewMongoDBUsageLog(ctx, cfg.DSN, cfg.Database, cfg.Table)
	case "none", "":
		return NopUsageLog{}, nil
	default:
		return nil, fmt.Errorf("unsupported usage log driver: %s", cfg.Driver)
	}
}

// NopUsageLog discards records.
type NopUsageLog struct{}

func (NopUsageLog) Append(context.Context, UsageRecord) error { return nil }

func (NopUsageLog) Aggregate(context.Context, time.Time) ([]MethodAggregate, error) {
	return nil, nil
}

func (NopUsageLog) Recent(context.Context, time.Time, int) ([]UsageRecord, error) {
	return nil, nil
}

func (NopUsageLog) Ping(context.Context) error { return nil }

func (NopUsageLog) Close() error { return nil }
