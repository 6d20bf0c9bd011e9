// internal/monitoring/usage.go

// Package monitoring tracks how each fetch method performs, decides how long
// to wait before the next attempt and which method to try first, and exposes
// the result as metrics and health checks.
package monitoring

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/output"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

// error text kept per usage-log row
const maxErrorMessage = 1000

// MethodStats is the in-memory record for one method.
type MethodStats struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	SuccessRate        float64       `json:"success_rate"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	LastUsed           time.Time     `json:"last_used"`
	Blocked            bool          `json:"blocked"`
	BlockedUntil       time.Time     `json:"blocked_until,omitempty"`
}

// Attempt is the outcome of one strategy call.
type Attempt struct {
	Method      string
	Query       string
	ResultCount int
	Duration    time.Duration
	Success     bool
	Err         string
}

// AdaptiveConfigPatch is a partial update; nil fields are left unchanged.
type AdaptiveConfigPatch struct {
	BaseDelay        *types.Duration `json:"base_delay,omitempty"`
	MaxDelay         *types.Duration `json:"max_delay,omitempty"`
	MinDelay         *types.Duration `json:"min_delay,omitempty"`
	SuccessThreshold *float64        `json:"success_threshold,omitempty"`
	FailureThreshold *float64        `json:"failure_threshold,omitempty"`
	BlockDuration    *types.Duration `json:"block_duration,omitempty"`
	MinSamples       *int            `json:"min_samples,omitempty"`
}

// MethodReport is one row of Statistics.
type MethodReport struct {
	Method             string         `json:"method"`
	TotalRequests      int64          `json:"total_requests"`
	SuccessfulRequests int64          `json:"successful_requests"`
	SuccessRate        float64        `json:"success_rate"`
	AvgResponseTime    types.Duration `json:"avg_response_time"`
	AvgResultCount     float64        `json:"avg_result_count"`
	LastUsed           *time.Time     `json:"last_used,omitempty"`
	Blocked            bool           `json:"blocked"`
	BlockedUntil       *time.Time     `json:"blocked_until,omitempty"`
	CurrentDelay       types.Duration `json:"current_delay"`
	// Source is "log" when the counts come from the usage log and "memory"
	// when the log had nothing for the window.
	Source string `json:"source"`
}

// Row converts the report for the spreadsheet export.
func (r MethodReport) Row() output.StatsRow {
	row := output.StatsRow{
		Method:             r.Method,
		TotalRequests:      r.TotalRequests,
		SuccessfulRequests: r.SuccessfulRequests,
		SuccessRate:        r.SuccessRate,
		AvgResponseTime:    r.AvgResponseTime.ToDuration(),
		AvgResultCount:     r.AvgResultCount,
		Blocked:            r.Blocked,
		CurrentDelay:       r.CurrentDelay.ToDuration(),
	}
	if r.LastUsed != nil {
		row.LastUsed = *r.LastUsed
	}
	if r.BlockedUntil != nil {
		row.BlockedUntil = *r.BlockedUntil
	}
	return row
}

// Monitor owns the per-method statistics. One instance is shared by the
// orchestrator and the admin surfaces; it is safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	stats  map[string]*MethodStats
	config config.AdaptiveConfig

	usageLog     output.UsageLog
	writeTimeout time.Duration
	writes       *pendingWrites

	metrics *Metrics
	logger  utils.Logger
	now     func() time.Time
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithUsageLog sets the persistent attempt log.
func WithUsageLog(log output.UsageLog) Option {
	return func(m *Monitor) { m.usageLog = log }
}

// WithMetrics publishes monitor state as Prometheus metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(logger utils.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithWriteTimeout bounds each background usage-log write.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.writeTimeout = d }
}

// NewMonitor creates a Monitor. An empty method list falls back to
// direct, browser, proxy.
func NewMonitor(cfg config.AdaptiveConfig, opts ...Option) *Monitor {
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{config.MethodDirect, config.MethodBrowser, config.MethodProxy}
	}
	m := &Monitor{
		stats:        make(map[string]*MethodStats),
		config:       cfg,
		usageLog:     output.NopUsageLog{},
		writeTimeout: 5 * time.Second,
		writes:       newPendingWrites(),
		logger:       utils.NewComponentLogger("usage-monitor"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordAttempt folds one outcome into the method's statistics and queues
// the usage-log write. It never fails; log-write errors are only logged.
func (m *Monitor) RecordAttempt(ctx context.Context, a Attempt) {
	now := m.now()

	m.mu.Lock()
	s, ok := m.stats[a.Method]
	if !ok {
		s = &MethodStats{}
		m.stats[a.Method] = s
	}
	s.TotalRequests++
	if a.Success {
		s.SuccessfulRequests++
	}
	s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
	if s.TotalRequests == 1 {
		s.AvgResponseTime = a.Duration
	} else {
		s.AvgResponseTime = (s.AvgResponseTime + a.Duration) / 2
	}
	s.LastUsed = now

	newlyBlocked := false
	if !s.Blocked && s.TotalRequests >= int64(m.config.MinSamples) && s.SuccessRate < m.config.FailureThreshold {
		s.Blocked = true
		s.BlockedUntil = now.Add(m.config.BlockDuration)
		newlyBlocked = true
	}
	rate, blockedUntil := s.SuccessRate, s.BlockedUntil
	m.mu.Unlock()

	if newlyBlocked {
		m.logger.WithFields(map[string]interface{}{
			"method":        a.Method,
			"success_rate":  rate,
			"blocked_until": blockedUntil.Format(time.RFC3339),
		}).Warn("Method blocked after low success rate")
	}
	m.metrics.observeAttempt(a.Method, a.Success, a.Duration, rate)
	if newlyBlocked {
		m.metrics.setBlocked(a.Method, true)
	}

	rec := output.UsageRecord{
		ID:           uuid.NewString(),
		Method:       a.Method,
		Query:        a.Query,
		ResultCount:  a.ResultCount,
		ResponseTime: a.Duration,
		Success:      a.Success,
		ErrorMessage: utils.TruncateString(a.Err, maxErrorMessage),
		CreatedAt:    now,
	}
	seq := m.writes.start()
	go m.writeRecord(context.WithoutCancel(ctx), seq, rec)
}

func (m *Monitor) writeRecord(ctx context.Context, seq uint64, rec output.UsageRecord) {
	defer m.writes.done(seq)

	ctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	if err := m.usageLog.Append(ctx, rec); err != nil {
		m.metrics.usageLogError()
		m.logger.WithField("method", rec.Method).Warnf("Failed to write usage record: %v", err)
	}
}

// AdaptiveDelay returns how long to wait before the next attempt of method.
func (m *Monitor) AdaptiveDelay(method string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adaptiveDelayLocked(method)
}

func (m *Monitor) adaptiveDelayLocked(method string) time.Duration {
	cfg := m.config
	s, ok := m.stats[method]
	if !ok {
		return cfg.BaseDelay
	}
	if m.blockedLocked(method, s) {
		return cfg.MaxDelay
	}
	switch {
	case s.SuccessRate >= cfg.SuccessThreshold:
		d := time.Duration(float64(cfg.BaseDelay) * 0.5)
		if d < cfg.MinDelay {
			d = cfg.MinDelay
		}
		return d
	case s.SuccessRate <= cfg.FailureThreshold:
		d := cfg.BaseDelay * 3
		if d > cfg.MaxDelay {
			d = cfg.MaxDelay
		}
		return d
	default:
		return cfg.BaseDelay
	}
}

// IsMethodBlocked reports whether method is in its cooldown. An expired
// block is cleared here.
func (m *Monitor) IsMethodBlocked(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[method]
	if !ok {
		return false
	}
	return m.blockedLocked(method, s)
}

// blockedLocked must be called with m.mu held.
func (m *Monitor) blockedLocked(method string, s *MethodStats) bool {
	if !s.Blocked {
		return false
	}
	if m.now().Before(s.BlockedUntil) {
		return true
	}
	s.Blocked = false
	s.BlockedUntil = time.Time{}
	m.metrics.setBlocked(method, false)
	m.logger.WithField("method", method).Info("Method block expired")
	return false
}

// BestMethod picks the method to try first. Unseen methods win outright;
// otherwise the highest successRate*100 - avgSeconds wins, ties going to
// the earlier method. With every method blocked the first one is returned.
func (m *Monitor) BestMethod() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	methods := m.config.Methods
	best := ""
	bestScore := math.Inf(-1)
	for _, method := range methods {
		s, ok := m.stats[method]
		if !ok {
			return method
		}
		if m.blockedLocked(method, s) {
			continue
		}
		score := s.SuccessRate*100 - s.AvgResponseTime.Seconds()
		if score > bestScore {
			best, bestScore = method, score
		}
	}
	if best == "" {
		return methods[0]
	}
	return best
}

// Methods returns the configured candidate order.
func (m *Monitor) Methods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.config.Methods...)
}

// Statistics reports every configured method for the last days (7 when
// days is not positive), using the usage log when it has data.
func (m *Monitor) Statistics(ctx context.Context, days int) ([]MethodReport, error) {
	if days <= 0 {
		days = 7
	}
	since := m.now().Add(-time.Duration(days) * 24 * time.Hour)

	aggs, err := m.usageLog.Aggregate(ctx, since)
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to aggregate usage log")
	}
	byMethod := make(map[string]output.MethodAggregate, len(aggs))
	for _, agg := range aggs {
		byMethod[agg.Method] = agg
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	names := append([]string(nil), m.config.Methods...)
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	var extra []string
	for n := range byMethod {
		if !known[n] {
			extra = append(extra, n)
		}
	}
	for n := range m.stats {
		if !known[n] && byMethod[n].Method == "" {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)

	reports := make([]MethodReport, 0, len(names))
	for _, name := range names {
		r := MethodReport{Method: name, Source: "log"}
		s, live := m.stats[name]

		if agg, ok := byMethod[name]; ok {
			r.TotalRequests = agg.TotalRequests
			r.SuccessfulRequests = agg.SuccessfulRequests
			r.AvgResponseTime = types.Duration(agg.AvgResponseTime)
			r.AvgResultCount = agg.AvgResultCount
			if !agg.LastUsed.IsZero() {
				last := agg.LastUsed
				r.LastUsed = &last
			}
		} else if live {
			r.Source = "memory"
			r.TotalRequests = s.TotalRequests
			r.SuccessfulRequests = s.SuccessfulRequests
			r.AvgResponseTime = types.Duration(s.AvgResponseTime)
			last := s.LastUsed
			r.LastUsed = &last
		}
		if r.TotalRequests > 0 {
			r.SuccessRate = float64(r.SuccessfulRequests) / float64(r.TotalRequests)
		}

		if live && m.blockedLocked(name, s) {
			r.Blocked = true
			until := s.BlockedUntil
			r.BlockedUntil = &until
		}
		r.CurrentDelay = types.Duration(m.adaptiveDelayLocked(name))
		reports = append(reports, r)
	}
	return reports, nil
}

// Recent returns the latest usage-log rows for the last days.
func (m *Monitor) Recent(ctx context.Context, days, limit int) ([]output.UsageRecord, error) {
	if days <= 0 {
		days = 7
	}
	since := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	recs, err := m.usageLog.Recent(ctx, since, limit)
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to read usage log")
	}
	return recs, nil
}

// ResetMethodStats forgets the in-memory state of method, or of every
// method when method is empty. The usage log is untouched.
func (m *Monitor) ResetMethodStats(method string) {
	m.mu.Lock()
	var cleared []string
	if method == "" {
		for name := range m.stats {
			cleared = append(cleared, name)
		}
		m.stats = make(map[string]*MethodStats)
	} else if _, ok := m.stats[method]; ok {
		delete(m.stats, method)
		cleared = append(cleared, method)
	}
	m.mu.Unlock()

	for _, name := range cleared {
		m.metrics.reset(name)
	}
	m.logger.WithField("method", method).Info("Method statistics reset")
}

// UpdateConfig applies patch and returns the resulting configuration. The
// patch is rejected as a whole if the result would be invalid.
func (m *Monitor) UpdateConfig(patch AdaptiveConfigPatch) (config.AdaptiveConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.config
	next.Methods = append([]string(nil), m.config.Methods...)
	if patch.BaseDelay != nil {
		next.BaseDelay = patch.BaseDelay.ToDuration()
	}
	if patch.MaxDelay != nil {
		next.MaxDelay = patch.MaxDelay.ToDuration()
	}
	if patch.MinDelay != nil {
		next.MinDelay = patch.MinDelay.ToDuration()
	}
	if patch.SuccessThreshold != nil {
		next.SuccessThreshold = *patch.SuccessThreshold
	}
	if patch.FailureThreshold != nil {
		next.FailureThreshold = *patch.FailureThreshold
	}
	if patch.BlockDuration != nil {
		next.BlockDuration = patch.BlockDuration.ToDuration()
	}
	if patch.MinSamples != nil {
		next.MinSamples = *patch.MinSamples
	}

	if err := next.Validate(); err != nil {
		return m.config, err
	}
	m.config = next
	m.logger.WithFields(map[string]interface{}{
		"base_delay":        next.BaseDelay.String(),
		"max_delay":         next.MaxDelay.String(),
		"success_threshold": next.SuccessThreshold,
		"failure_threshold": next.FailureThreshold,
		"block_duration":    next.BlockDuration.String(),
	}).Info("Adaptive configuration updated")
	return next, nil
}

// Config returns a copy of the adaptive configuration.
func (m *Monitor) Config() config.AdaptiveConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.config
	cfg.Methods = append([]string(nil), m.config.Methods...)
	return cfg
}

// Snapshot copies the in-memory statistics.
func (m *Monitor) Snapshot() map[string]MethodStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]MethodStats, len(m.stats))
	for name, s := range m.stats {
		out[name] = *s
	}
	return out
}

// Ping checks the usage log.
func (m *Monitor) Ping(ctx context.Context) error {
	return m.usageLog.Ping(ctx)
}

// Flush waits for the usage-log writes queued before the call. Writes
// queued concurrently do not hold it up.
func (m *Monitor) Flush() {
	m.writes.wait()
}

// pendingWrites tracks in-flight usage-log writes by sequence number so a
// flush can wait for a prefix of them while new ones keep arriving.
type pendingWrites struct {
	mu       sync.Mutex
	cond     *sync.Cond
	next     uint64
	inflight map[uint64]struct{}
}

func newPendingWrites() *pendingWrites {
	p := &pendingWrites{inflight: make(map[uint64]struct{})}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pendingWrites) start() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.inflight[p.next] = struct{}{}
	return p.next
}

func (p *pendingWrites) done(seq uint64) {
	p.mu.Lock()
	delete(p.inflight, seq)
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *pendingWrites) wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.next
	for p.pendingUpTo(target) {
		p.cond.Wait()
	}
}

// pendingUpTo must be called with p.mu held.
func (p *pendingWrites) pendingUpTo(target uint64) bool {
	for seq := range p.inflight {
		if seq <= target {
			return true
		}
	}
	return false
}

// Close flushes pending writes and closes the usage log.
func (m *Monitor) Close() error {
	m.Flush()
	return m.usageLog.Close()
}
