// pkg/api/types.go
package api

import (
	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/monitoring"
	"github.com/valpere/vinparts/internal/output"
	"github.com/valpere/vinparts/pkg/types"
)

// Re-exported so callers outside the module can name what Service returns.
type (
	Config              = config.Config
	AdaptiveConfig      = config.AdaptiveConfig
	SearchResult        = types.SearchResult
	MethodReport        = monitoring.MethodReport
	AdaptiveConfigPatch = monitoring.AdaptiveConfigPatch
	UsageRecord         = output.UsageRecord
)

// LoadConfig reads a YAML configuration file, expanding ${VAR} references.
func LoadConfig(path string) (*Config, error) {
	return config.LoadFromFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
