// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status   HealthStatus           `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CheckFunc runs one health check.
type CheckFunc func(ctx context.Context) HealthCheckResult

type healthCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// SystemHealth is the aggregated answer of the health endpoint.
type SystemHealth struct {
	Status    HealthStatus                 `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Version   string                       `json:"version,omitempty"`
	Uptime    string                       `json:"uptime"`
	Checks    map[string]HealthCheckResult `json:"checks"`
}

// HealthManager runs registered checks on demand.
type HealthManager struct {
	mu      sync.RWMutex
	checks  []healthCheck
	timeout time.Duration
	version string
	started time.Time
}

// NewHealthManager creates a manager whose checks each get timeout.
func NewHealthManager(version string, timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthManager{timeout: timeout, version: version, started: time.Now()}
}

// Register adds a check. A failing critical check makes the whole service
// unhealthy; a failing non-critical one only degrades it.
func (hm *HealthManager) Register(name string, critical bool, fn CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks = append(hm.checks, healthCheck{name: name, critical: critical, fn: fn})
}

// Check runs every check concurrently.
func (hm *HealthManager) Check(ctx context.Context) SystemHealth {
	hm.mu.RLock()
	checks := append([]healthCheck(nil), hm.checks...)
	hm.mu.RUnlock()

	results := make([]HealthCheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, c healthCheck) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
			defer cancel()

			start := time.Now()
			res := c.fn(checkCtx)
			res.Duration = time.Since(start)
			results[i] = res
		}(i, check)
	}
	wg.Wait()

	health := SystemHealth{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Version:   hm.version,
		Uptime:    time.Since(hm.started).Round(time.Second).String(),
		Checks:    make(map[string]HealthCheckResult, len(checks)),
	}
	for i, check := range checks {
		res := results[i]
		health.Checks[check.name] = res
		switch {
		case res.Status == HealthStatusUnhealthy && check.critical:
			health.Status = HealthStatusUnhealthy
		case res.Status != HealthStatusHealthy && health.Status == HealthStatusHealthy:
			health.Status = HealthStatusDegraded
		}
	}
	return health
}

// HealthHandler serves Check as JSON; unhealthy answers 503.
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// PingCheck wraps a connectivity check such as a database or cache ping.
func PingCheck(component string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) HealthCheckResult {
		if err := ping(ctx); err != nil {
			return HealthCheckResult{
				Status:  HealthStatusUnhealthy,
				Message: component + " unreachable",
				Error:   err.Error(),
			}
		}
		return HealthCheckResult{Status: HealthStatusHealthy, Message: component + " reachable"}
	}
}

// MethodsCheck is degraded while some methods are blocked and unhealthy
// when all of them are.
func MethodsCheck(m *Monitor) CheckFunc {
	return func(ctx context.Context) HealthCheckResult {
		methods := m.Methods()
		var blocked []string
		for _, method := range methods {
			if m.IsMethodBlocked(method) {
				blocked = append(blocked, method)
			}
		}
		sort.Strings(blocked)

		res := HealthCheckResult{
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%d of %d methods available", len(methods)-len(blocked), len(methods)),
			Metadata: map[string]interface{}{"blocked": blocked, "best": m.BestMethod()},
		}
		switch {
		case len(blocked) == len(methods):
			res.Status = HealthStatusUnhealthy
		case len(blocked) > 0:
			res.Status = HealthStatusDegraded
		}
		return res
	}
}
