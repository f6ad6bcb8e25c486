package config

import (
	"fmt"
	"time"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
)

// Config holds all configuration for the carbon footprint node
type Config struct {
	Node          NodeConfig          `yaml:"node"`
	Measurement   MeasurementConfig   `yaml:"measurement"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Carbon        CarbonConfig        `yaml:"carbon"`
	History       HistoryConfig       `yaml:"history"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// NodeConfig identifies the node and its task transport
type NodeConfig struct {
	Name       string `yaml:"name"`
	ListenAddr string `yaml:"listenAddr"`
}

// MeasurementConfig bounds a single supervised measurement
type MeasurementConfig struct {
	Deadline      time.Duration `yaml:"deadline"`      // Wall-clock limit for the isolated worker
	TeardownDelay time.Duration `yaml:"teardownDelay"` // Extra wait for worker I/O after a forced kill
	Epochs        int           `yaml:"epochs"`
	LogDirectory  string        `yaml:"logDirectory"` // Scratch directory for backend logs
}

// TelemetryConfig selects the single active hardware telemetry backend.
// It is also shipped to the isolated worker, hence the JSON tags.
type TelemetryConfig struct {
	Backend    string           `yaml:"backend" json:"backend"`             // model, rapl or prometheus
	MaxWindow  time.Duration    `yaml:"maxWindow" json:"maxWindow"`         // Cap on the simulated work window
	RAPLPath   string           `yaml:"raplPath" json:"raplPath,omitempty"` // powercap sysfs root
	Prometheus PrometheusConfig `yaml:"prometheus" json:"prometheus,omitempty"`
}

// PrometheusConfig configures the Prometheus energy counter backend
type PrometheusConfig struct {
	URL     string        `yaml:"url" json:"url,omitempty"`
	Query   string        `yaml:"query" json:"query,omitempty"` // Must evaluate to cumulative joules
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// CarbonConfig controls how grid carbon intensity is resolved
type CarbonConfig struct {
	DefaultIntensity float64                  `yaml:"defaultIntensity"` // gCO2eq/kWh when no live data
	Zone             string                   `yaml:"zone"`             // Electricity Maps zone, wins over the cloud region
	CloudProvider    string                   `yaml:"cloudProvider"`
	CloudRegion      string                   `yaml:"cloudRegion"`
	RegionOverrides  []RegionOverride         `yaml:"regionOverrides"`
	APIConfig        ElectricityMapsAPIConfig `yaml:"api"`
	Cache            APICacheConfig           `yaml:"cache"`
}

// RegionOverride maps a cloud region to an Electricity Maps zone
type RegionOverride struct {
	Provider            string `yaml:"provider"`
	Region              string `yaml:"region"`
	ElectricityMapsZone string `yaml:"electricityMapsZone"`
}

// ElectricityMapsAPIConfig holds Electricity Maps API settings
type ElectricityMapsAPIConfig struct {
	APIKey string `yaml:"apiKey"`
	URL    string `yaml:"url"`
}

// APICacheConfig holds API client and cache settings
type APICacheConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"maxRetries"`
	RetryDelay  time.Duration `yaml:"retryDelay"`
	RateLimit   int           `yaml:"rateLimit"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
	MaxCacheAge time.Duration `yaml:"maxCacheAge"`
}

// HistoryConfig enables the sqlite measurement history
type HistoryConfig struct {
	DatabasePath string        `yaml:"databasePath"` // Empty disables history
	Retention    time.Duration `yaml:"retention"`
}

// ObservabilityConfig holds configuration for monitoring
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	MetricsAddr    string `yaml:"metricsAddr"`
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.Measurement.Deadline <= 0 {
		return fmt.Errorf("measurement deadline must be positive")
	}
	if c.Measurement.TeardownDelay < 0 {
		return fmt.Errorf("measurement teardown delay must not be negative")
	}
	if c.Measurement.Epochs < 1 {
		return fmt.Errorf("measurement epochs must be at least 1")
	}
	if c.Measurement.LogDirectory == "" {
		return fmt.Errorf("measurement log directory is required")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}

	if c.Carbon.DefaultIntensity < 0 {
		return fmt.Errorf("default carbon intensity must not be negative")
	}
	if c.Carbon.APIConfig.APIKey != "" {
		if c.Carbon.APIConfig.URL == "" {
			return fmt.Errorf("electricity maps URL is required when an API key is set")
		}
		if c.Carbon.Cache.RateLimit <= 0 {
			return fmt.Errorf("API rate limit must be positive")
		}
		if c.Carbon.Cache.MaxRetries < 0 {
			return fmt.Errorf("API max retries must not be negative")
		}
	}
	for i, o := range c.Carbon.RegionOverrides {
		if o.Provider == "" || o.Region == "" || o.ElectricityMapsZone == "" {
			return fmt.Errorf("region override at index %d needs provider, region and electricityMapsZone", i)
		}
	}

	if c.History.Retention < 0 {
		return fmt.Errorf("history retention must not be negative")
	}
	if c.Observability.MetricsEnabled && c.Observability.MetricsAddr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	return nil
}

// Validate checks the backend selection and its settings
func (t *TelemetryConfig) Validate() error {
	switch t.Backend {
	case common.BackendModel, common.BackendRAPL:
	case common.BackendPrometheus:
		if t.Prometheus.URL == "" {
			return fmt.Errorf("prometheus backend requires a URL")
		}
		if t.Prometheus.Query == "" {
			return fmt.Errorf("prometheus backend requires a query")
		}
	default:
		return fmt.Errorf("unknown telemetry backend %q", t.Backend)
	}
	if t.MaxWindow < 0 {
		return fmt.Errorf("max window must not be negative")
	}
	return nil
}
