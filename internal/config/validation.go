// internal/config/validation.go
package config

import (
	"fmt"
	"strings"

	"github.com/valpere/vinparts/internal/utils"
)

// ValidationError represents a detailed validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationResult holds validation results
type ValidationResult struct {
	Errors []ValidationError `json:"errors"`
}

func (r *ValidationResult) add(field, value, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Value: value, Message: message})
}

var knownDrivers = map[string]bool{
	"sqlite3":  true,
	"postgres": true,
	"mysql":    true,
	"mongodb":  true,
	"none":     true,
}

var knownMethods = map[string]bool{
	MethodDirect:  true,
	MethodBrowser: true,
	MethodProxy:   true,
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	result := &ValidationResult{}

	c.validateTarget(result)
	validateAdaptive(c.Adaptive, result)
	c.validateStorage(result)

	if c.Challenge.Solver != "heuristic" && c.Challenge.Solver != "noop" {
		result.add("challenge.solver", c.Challenge.Solver, "solver must be heuristic or noop")
	}
	if c.Challenge.MaxWait < c.Challenge.MinWait {
		result.add("challenge.max_wait", c.Challenge.MaxWait.String(), "max_wait must not be below min_wait")
	}
	if c.Direct.RequestsPerSecond < 0 {
		result.add("direct.requests_per_second", fmt.Sprint(c.Direct.RequestsPerSecond), "rate must not be negative")
	}
	if IsEnabled(c.Proxy.Enabled) && !utils.IsValidURL(c.Proxy.Endpoint) {
		result.add("proxy.endpoint", c.Proxy.Endpoint, "proxy endpoint must be an absolute URL")
	}

	if len(result.Errors) > 0 {
		return formatValidationError(result)
	}
	return nil
}

func (c *Config) validateTarget(result *ValidationResult) {
	if !utils.IsValidURL(c.Target.BaseURL) {
		result.add("target.base_url", c.Target.BaseURL, "base URL must be an absolute URL")
	}
	if !strings.HasPrefix(c.Target.SearchPath, "/") {
		result.add("target.search_path", c.Target.SearchPath, "path must start with /")
	}
	if !strings.HasPrefix(c.Target.PartsPath, "/") {
		result.add("target.parts_path", c.Target.PartsPath, "path must start with /")
	}
}

// Validate checks an adaptive block on its own, as applied by runtime updates.
func (a AdaptiveConfig) Validate() error {
	result := &ValidationResult{}
	validateAdaptive(a, result)
	if len(result.Errors) > 0 {
		return formatValidationError(result)
	}
	return nil
}

func validateAdaptive(a AdaptiveConfig, result *ValidationResult) {
	if a.BaseDelay < 0 || a.MaxDelay < 0 || a.MinDelay < 0 {
		result.add("adaptive", "", "delays must not be negative")
	}
	if a.MaxDelay < a.BaseDelay {
		result.add("adaptive.max_delay", a.MaxDelay.String(), "max_delay must be at least base_delay")
	}
	if a.MinDelay > a.BaseDelay {
		result.add("adaptive.min_delay", a.MinDelay.String(), "min_delay must not exceed base_delay")
	}
	if a.SuccessThreshold <= 0 || a.SuccessThreshold > 1 {
		result.add("adaptive.success_threshold", fmt.Sprint(a.SuccessThreshold), "threshold must be in (0, 1]")
	}
	if a.FailureThreshold < 0 || a.FailureThreshold >= a.SuccessThreshold {
		result.add("adaptive.failure_threshold", fmt.Sprint(a.FailureThreshold), "threshold must be in [0, success_threshold)")
	}
	if a.BlockDuration <= 0 {
		result.add("adaptive.block_duration", a.BlockDuration.String(), "block_duration must be positive")
	}
	if a.MinSamples < 1 {
		result.add("adaptive.min_samples", fmt.Sprint(a.MinSamples), "min_samples must be positive")
	}

	seen := make(map[string]bool, len(a.Methods))
	for _, m := range a.Methods {
		if !knownMethods[m] {
			result.add("adaptive.methods", m, "unknown method")
		}
		if seen[m] {
			result.add("adaptive.methods", m, "duplicate method")
		}
		seen[m] = true
	}
}

func (c *Config) validateStorage(result *ValidationResult) {
	if !knownDrivers[c.Storage.Driver] {
		result.add("storage.driver", c.Storage.Driver, "driver must be one of sqlite3, postgres, mysql, mongodb, none")
		return
	}
	if c.Storage.Driver != "none" && c.Storage.DSN == "" {
		result.add("storage.dsn", "", "dsn is required for driver "+c.Storage.Driver)
	}
}

// formatValidationError creates a single error listing every problem found
func formatValidationError(result *ValidationResult) error {
	var msg strings.Builder
	msg.WriteString("configuration validation failed:")
	for i, err := range result.Errors {
		msg.WriteString(fmt.Sprintf("\n  %d. %s", i+1, err.Message))
		if err.Field != "" {
			msg.WriteString(fmt.Sprintf(" (field: %s)", err.Field))
		}
		if err.Value != "" {
			msg.WriteString(fmt.Sprintf(" (value: %s)", err.Value))
		}
	}
	return utils.NewError(utils.ErrCodeInvalidConfig, msg.String()).Build()
}
