// internal/scraper/engine.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/monitoring"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

const (
	msgNoResults       = "No results returned"
	msgPlaceholderOnly = "only diagnostic placeholder parts found"
	msgAllBlocked      = "all methods blocked"
)

// ResultCache stores successful lookups by VIN.
type ResultCache interface {
	Get(ctx context.Context, vin string) (*types.SearchResult, bool, error)
	Set(ctx context.Context, vin string, res *types.SearchResult) error
}

// Engine tries the registered strategies one after another, best first,
// until one returns real parts.
type Engine struct {
	strategies map[string]Strategy
	monitor    *monitoring.Monitor
	cache      ResultCache
	metrics    *monitoring.Metrics
	logger     utils.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithCache serves repeated lookups from c.
func WithCache(c ResultCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithEngineMetrics records search outcomes.
func WithEngineMetrics(m *monitoring.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineLogger replaces the component logger.
func WithEngineLogger(l utils.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithSleeper replaces the context-aware sleep used for adaptive delays.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine registers strategies by name. Only strategies whose name is one
// of the monitor's methods are ever tried.
func NewEngine(monitor *monitoring.Monitor, strategies []Strategy, opts ...EngineOption) *Engine {
	e := &Engine{
		strategies: make(map[string]Strategy, len(strategies)),
		monitor:    monitor,
		logger:     utils.NewComponentLogger("engine"),
		sleep:      antidetect.Sleep,
	}
	for _, s := range strategies {
		e.strategies[s.Name()] = s
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Monitor returns the monitor the engine records into.
func (e *Engine) Monitor() *monitoring.Monitor {
	return e.monitor
}

// order puts the best method first and keeps the configured order for the
// rest.
func (e *Engine) order() []string {
	best := e.monitor.BestMethod()
	methods := e.monitor.Methods()

	order := make([]string, 0, len(methods))
	if _, ok := e.strategies[best]; ok {
		order = append(order, best)
	}
	for _, m := range methods {
		if _, ok := e.strategies[m]; ok && m != best {
			order = append(order, m)
		}
	}
	return order
}

// SearchByVin looks up the parts for vin. It never returns nil; all failures
// are reported in the result.
//
// Only a result with real parts ends the search. An empty parts list and a
// list made only of diagnostic placeholder parts both count as a failed
// attempt, so when every method answers that way the search ends with
// "All methods failed. Last error: ..." like any other exhaustion.
func (e *Engine) SearchByVin(ctx context.Context, vin string) *types.SearchResult {
	start := time.Now()
	vin = utils.NormalizeVIN(vin)
	log := e.logger.WithField("vin", vin)

	if err := utils.ValidateVIN(vin); err != nil {
		e.metrics.RecordSearch("invalid", time.Since(start))
		return types.NewFailure("", errorMessage(err))
	}

	if cached := e.cached(ctx, vin); cached != nil {
		log.WithField("method", cached.Method).Debug("Serving cached result")
		e.metrics.RecordSearch("cached", time.Since(start))
		return cached
	}

	lastErr := ""
	attempted := false
	for _, method := range e.order() {
		if e.monitor.IsMethodBlocked(method) {
			log.WithField("method", method).Debug("Skipping blocked method")
			continue
		}

		delay := e.monitor.AdaptiveDelay(method)
		if err := e.sleep(ctx, delay); err != nil {
			lastErr = err.Error()
			break
		}

		attempted = true
		attemptStart := time.Now()
		res := e.invoke(ctx, method, vin)
		elapsed := time.Since(attemptStart)

		ok, msg := evaluate(res)
		e.monitor.RecordAttempt(ctx, monitoring.Attempt{
			Method:      method,
			Query:       vin,
			ResultCount: len(res.Parts),
			Duration:    elapsed,
			Success:     ok,
			Err:         msg,
		})

		if ok {
			log.WithFields(map[string]interface{}{
				"method":   method,
				"parts":    len(res.Parts),
				"duration": utils.FormatDuration(elapsed),
			}).Info("Parts found")
			e.store(ctx, vin, res)
			e.metrics.RecordSearch("success", time.Since(start))
			return res
		}

		log.WithField("method", method).Warnf("Method failed: %s", msg)
		lastErr = msg
		if ctx.Err() != nil {
			break
		}
	}

	if !attempted && lastErr == "" {
		lastErr = msgAllBlocked
	}
	exhausted := utils.NewError(utils.ErrCodeAllMethodsExhausted, fmt.Sprintf("All methods failed. Last error: %s", lastErr)).
		WithContext("attempted", attempted).
		Build()
	e.metrics.RecordSearch("failure", time.Since(start))
	log.WithFields(map[string]interface{}{
		"code":      exhausted.Code,
		"attempted": attempted,
	}).Error(exhausted.Message)
	return types.NewFailure("", exhausted.Message)
}

// invoke calls a strategy, turning a panic into a failed result.
func (e *Engine) invoke(ctx context.Context, method, vin string) (res *types.SearchResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("method", method).Errorf("Strategy panicked: %v", r)
			res = types.NewFailure(method, fmt.Sprintf("%s: strategy panicked: %v", utils.ErrCodeInternal, r))
		}
	}()
	res = e.strategies[method].SearchByVin(ctx, vin)
	if res == nil {
		res = types.NewFailure(method, msgNoResults)
	}
	return res
}

// evaluate decides whether a strategy result ends the search.
func evaluate(res *types.SearchResult) (bool, string) {
	switch {
	case !res.Success:
		if res.Error == "" {
			return false, msgNoResults
		}
		return false, res.Error
	case !res.HasParts():
		return false, msgNoResults
	case res.Placeholder:
		return false, msgPlaceholderOnly
	}
	return true, ""
}

func (e *Engine) cached(ctx context.Context, vin string) *types.SearchResult {
	if e.cache == nil {
		return nil
	}
	res, ok, err := e.cache.Get(ctx, vin)
	switch {
	case err != nil:
		e.metrics.RecordCacheLookup("error")
		e.logger.Warnf("Cache lookup failed: %v", err)
		return nil
	case !ok:
		e.metrics.RecordCacheLookup("miss")
		return nil
	}
	e.metrics.RecordCacheLookup("hit")
	return res
}

func (e *Engine) store(ctx context.Context, vin string, res *types.SearchResult) {
	if e.cache == nil || res.Placeholder {
		return
	}
	if err := e.cache.Set(ctx, vin, res); err != nil {
		e.logger.Warnf("Cache store failed: %v", err)
	}
}

func errorMessage(err error) string {
	var se *utils.StructuredError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
