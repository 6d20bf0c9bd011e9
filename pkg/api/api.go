// pkg/api/api.go

// Package api is the public entry point: it wires the configured fetch
// strategies, usage monitor, usage log, cache and metrics into one Service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/browser"
	"github.com/valpere/vinparts/internal/cache"
	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/monitoring"
	"github.com/valpere/vinparts/internal/output"
	"github.com/valpere/vinparts/internal/scraper"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

// Service answers VIN lookups and exposes the monitor's admin operations.
type Service struct {
	cfg      *config.Config
	engine   *scraper.Engine
	monitor  *monitoring.Monitor
	cache    *cache.ResultCache
	pool     *browser.TabPool
	registry *prometheus.Registry
	health   *monitoring.HealthManager
	watcher  *config.ConfigWatcher
	logger   utils.Logger
}

type options struct {
	registry   *prometheus.Registry
	strategies []scraper.Strategy
	usageLog   output.UsageLog
	version    string
}

// Option customises New.
type Option func(*options)

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithStrategies replaces the strategies built from the configuration.
func WithStrategies(strategies ...scraper.Strategy) Option {
	return func(o *options) { o.strategies = strategies }
}

// WithUsageLog replaces the usage log opened from storage settings.
func WithUsageLog(log output.UsageLog) Option {
	return func(o *options) { o.usageLog = log }
}

// WithVersion is reported by the health endpoint.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New builds a Service from cfg. Nothing is launched until the first lookup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	o := &options{version: "dev"}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	s := &Service{
		cfg:      cfg,
		registry: o.registry,
		logger:   utils.NewComponentLogger("service"),
	}

	strategies := o.strategies
	if strategies == nil {
		built, err := s.buildStrategies()
		if err != nil {
			return nil, err
		}
		strategies = built
	}
	if len(strategies) == 0 {
		return nil, utils.NewError(utils.ErrCodeInvalidConfig, "no fetch method is enabled").Build()
	}

	usageLog := o.usageLog
	if usageLog == nil {
		opened, err := output.Open(ctx, cfg.Storage)
		if err != nil {
			s.closeBrowser()
			return nil, utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to open usage log")
		}
		usageLog = opened
	}

	metrics := monitoring.NewMetrics(o.registry)
	adaptive := cfg.Adaptive
	adaptive.Methods = enabledMethods(adaptive.Methods, strategies)
	s.monitor = monitoring.NewMonitor(adaptive,
		monitoring.WithUsageLog(usageLog),
		monitoring.WithMetrics(metrics),
		monitoring.WithWriteTimeout(cfg.Storage.WriteTimeout),
	)

	engineOpts := []scraper.EngineOption{scraper.WithEngineMetrics(metrics)}
	if cfg.Cache.Enabled {
		s.cache = cache.New(cfg.Cache)
		engineOpts = append(engineOpts, scraper.WithCache(s.cache))
	}
	s.engine = scraper.NewEngine(s.monitor, strategies, engineOpts...)

	s.health = monitoring.NewHealthManager(o.version, 5*time.Second)
	s.health.Register("methods", true, monitoring.MethodsCheck(s.monitor))
	s.health.Register("usage_log", false, monitoring.PingCheck("usage log", s.monitor.Ping))
	if s.cache != nil {
		s.health.Register("cache", false, monitoring.PingCheck("cache", s.cache.Ping))
	}

	s.logger.WithFields(map[string]interface{}{
		"methods": adaptive.Methods,
		"storage": cfg.Storage.Driver,
		"cache":   cfg.Cache.Enabled,
	}).Info("Service ready")
	return s, nil
}

func (s *Service) buildStrategies() ([]scraper.Strategy, error) {
	target, err := scraper.NewTarget(s.cfg.Target)
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeInvalidConfig, "invalid target")
	}
	solver := newSolver(s.cfg.Challenge)

	var strategies []scraper.Strategy
	if config.IsEnabled(s.cfg.Direct.Enabled) {
		strategies = append(strategies, scraper.NewDirectStrategy(s.cfg.Direct, target, solver))
	}
	if config.IsEnabled(s.cfg.Browser.Enabled) {
		chrome := browser.NewChrome(browser.OptionsFromConfig(s.cfg.Browser))
		s.pool = browser.NewTabPool(chrome, s.cfg.Browser.MaxTabs)
		strategies = append(strategies, scraper.NewBrowserStrategy(s.cfg.Browser, s.pool, target, solver))
	}
	if config.IsEnabled(s.cfg.Proxy.Enabled) {
		strategies = append(strategies, scraper.NewProxyStrategy(s.cfg.Proxy, target))
	}
	return strategies, nil
}

func newSolver(cfg config.ChallengeConfig) antidetect.Solver {
	if cfg.Solver == "noop" {
		return antidetect.NoopSolver{}
	}
	return antidetect.NewHeuristic(cfg.MinWait, cfg.MaxWait)
}

// enabledMethods keeps the configured order but drops methods without a
// strategy.
func enabledMethods(methods []string, strategies []scraper.Strategy) []string {
	available := make(map[string]bool, len(strategies))
	for _, st := range strategies {
		available[st.Name()] = true
	}
	var out []string
	for _, m := range methods {
		if available[m] {
			out = append(out, m)
		}
	}
	// strategies outside the configured list still get tried, last
	for _, st := range strategies {
		found := false
		for _, m := range out {
			if m == st.Name() {
				found = true
				break
			}
		}
		if !found {
			out = append(out, st.Name())
		}
	}
	return out
}

// SearchPartsByVin looks up the parts for vin.
func (s *Service) SearchPartsByVin(ctx context.Context, vin string) *types.SearchResult {
	return s.engine.SearchByVin(ctx, vin)
}

// Statistics reports per-method statistics for the last days.
func (s *Service) Statistics(ctx context.Context, days int) ([]monitoring.MethodReport, error) {
	s.monitor.Flush()
	return s.monitor.Statistics(ctx, days)
}

// RecentAttempts returns the latest logged attempts.
func (s *Service) RecentAttempts(ctx context.Context, days, limit int) ([]output.UsageRecord, error) {
	s.monitor.Flush()
	return s.monitor.Recent(ctx, days, limit)
}

// ExportStatistics writes the statistics workbook to w.
func (s *Service) ExportStatistics(ctx context.Context, days int, w io.Writer) error {
	reports, err := s.Statistics(ctx, days)
	if err != nil {
		return err
	}
	recent, err := s.RecentAttempts(ctx, days, 1000)
	if err != nil {
		return err
	}

	rows := make([]output.StatsRow, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, r.Row())
	}
	wb, err := output.NewStatsWorkbook(rows, recent)
	if err != nil {
		return err
	}
	defer wb.Close()
	_, err = wb.WriteTo(w)
	return err
}

// ResetMethodStats clears the in-memory state of method, or of all methods
// when method is empty.
func (s *Service) ResetMethodStats(method string) {
	s.monitor.ResetMethodStats(method)
}

// UpdateAdaptiveConfig applies a partial update of the adaptive settings.
func (s *Service) UpdateAdaptiveConfig(patch monitoring.AdaptiveConfigPatch) (config.AdaptiveConfig, error) {
	return s.monitor.UpdateConfig(patch)
}

// AdaptiveConfig returns the live adaptive settings.
func (s *Service) AdaptiveConfig() config.AdaptiveConfig {
	return s.monitor.Config()
}

// BestMethod is the method the next lookup will try first.
func (s *Service) BestMethod() string {
	return s.monitor.BestMethod()
}

// Health runs the registered health checks.
func (s *Service) Health() *monitoring.HealthManager {
	return s.health
}

// Gatherer exposes the metrics registry.
func (s *Service) Gatherer() prometheus.Gatherer {
	return s.registry
}

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// WatchConfig reloads the adaptive section whenever path changes.
func (s *Service) WatchConfig(path string) error {
	w, err := config.NewConfigWatcher(path)
	if err != nil {
		return err
	}
	w.OnChange(func(cfg *config.Config) {
		if _, err := s.monitor.UpdateConfig(patchFrom(cfg.Adaptive)); err != nil {
			s.logger.Warnf("Rejected reloaded adaptive settings: %v", err)
		}
	})
	s.watcher = w
	return nil
}

func patchFrom(a config.AdaptiveConfig) monitoring.AdaptiveConfigPatch {
	base, max, min, block := types.Duration(a.BaseDelay), types.Duration(a.MaxDelay), types.Duration(a.MinDelay), types.Duration(a.BlockDuration)
	success, failure, samples := a.SuccessThreshold, a.FailureThreshold, a.MinSamples
	return monitoring.AdaptiveConfigPatch{
		BaseDelay:        &base,
		MaxDelay:         &max,
		MinDelay:         &min,
		SuccessThreshold: &success,
		FailureThreshold: &failure,
		BlockDuration:    &block,
		MinSamples:       &samples,
	}
}

func (s *Service) closeBrowser() error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Close()
}

// Close stops the watcher and the browser, then flushes and closes the
// usage log and the cache.
func (s *Service) Close() error {
	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	errs = append(errs, s.closeBrowser())
	errs = append(errs, s.monitor.Close())
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	return errors.Join(errs...)
}
