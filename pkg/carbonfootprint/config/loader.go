package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
)

// Default returns the baseline configuration before file and environment overrides
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name:       "carbon-footprint-node",
			ListenAddr: common.DefaultListenAddr,
		},
		Measurement: MeasurementConfig{
			Deadline:      common.DefaultDeadline,
			TeardownDelay: common.DefaultTeardownDelay,
			Epochs:        common.DefaultEpochs,
			LogDirectory:  filepath.Join(os.TempDir(), "carbon-footprint-node", "logs"),
		},
		Telemetry: TelemetryConfig{
			Backend:   common.BackendModel,
			MaxWindow: common.DefaultMaxWindow,
			RAPLPath:  common.DefaultRAPLPath,
			Prometheus: PrometheusConfig{
				Query:   common.DefaultKeplerQuery,
				Timeout: 10 * time.Second,
			},
		},
		Carbon: CarbonConfig{
			DefaultIntensity: common.DefaultGridIntensity,
			APIConfig: ElectricityMapsAPIConfig{
				URL: "https://api.electricitymap.org/v3/carbon-intensity/latest?zone=",
			},
			Cache: APICacheConfig{
				Timeout:     10 * time.Second,
				MaxRetries:  3,
				RetryDelay:  1 * time.Second,
				RateLimit:   10,
				CacheTTL:    5 * time.Minute,
				MaxCacheAge: 1 * time.Hour,
			},
		},
		History: HistoryConfig{
			Retention: common.DefaultHistoryRetention,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsAddr:    common.DefaultMetricsAddr,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order, and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	klog.V(2).InfoS("Loaded configuration",
		"node", cfg.Node.Name,
		"backend", cfg.Telemetry.Backend,
		"deadline", cfg.Measurement.Deadline,
		"epochs", cfg.Measurement.Epochs,
		"logDirectory", cfg.Measurement.LogDirectory,
		"zone", cfg.Carbon.Zone,
		"hasApiKey", cfg.Carbon.APIConfig.APIKey != "",
		"historyEnabled", cfg.History.DatabasePath != "")

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Node.Name = getEnvOrDefault("CARBON_NODE_NAME", cfg.Node.Name)
	cfg.Node.ListenAddr = getEnvOrDefault("CARBON_NODE_LISTEN_ADDR", cfg.Node.ListenAddr)

	cfg.Measurement.Deadline = getDurationOrDefault("CARBON_NODE_DEADLINE", cfg.Measurement.Deadline)
	cfg.Measurement.TeardownDelay = getDurationOrDefault("CARBON_NODE_TEARDOWN_DELAY", cfg.Measurement.TeardownDelay)
	cfg.Measurement.Epochs = getIntOrDefault("CARBON_NODE_EPOCHS", cfg.Measurement.Epochs)
	cfg.Measurement.LogDirectory = getEnvOrDefault("CARBON_NODE_LOG_DIR", cfg.Measurement.LogDirectory)

	cfg.Telemetry.Backend = getEnvOrDefault("CARBON_NODE_BACKEND", cfg.Telemetry.Backend)
	cfg.Telemetry.MaxWindow = getDurationOrDefault("CARBON_NODE_MAX_WINDOW", cfg.Telemetry.MaxWindow)
	cfg.Telemetry.RAPLPath = getEnvOrDefault("CARBON_NODE_RAPL_PATH", cfg.Telemetry.RAPLPath)
	cfg.Telemetry.Prometheus.URL = getEnvOrDefault("CARBON_NODE_PROMETHEUS_URL", cfg.Telemetry.Prometheus.URL)
	cfg.Telemetry.Prometheus.Query = getEnvOrDefault("CARBON_NODE_PROMETHEUS_QUERY", cfg.Telemetry.Prometheus.Query)

	cfg.Carbon.DefaultIntensity = getFloatOrDefault("CARBON_NODE_DEFAULT_INTENSITY", cfg.Carbon.DefaultIntensity)
	cfg.Carbon.Zone = getEnvOrDefault("ELECTRICITY_MAP_API_REGION", cfg.Carbon.Zone)
	cfg.Carbon.CloudProvider = getEnvOrDefault("CARBON_NODE_CLOUD_PROVIDER", cfg.Carbon.CloudProvider)
	cfg.Carbon.CloudRegion = getEnvOrDefault("CARBON_NODE_CLOUD_REGION", cfg.Carbon.CloudRegion)
	cfg.Carbon.APIConfig.APIKey = getEnvOrDefault("ELECTRICITY_MAP_API_KEY", cfg.Carbon.APIConfig.APIKey)
	cfg.Carbon.APIConfig.URL = getEnvOrDefault("ELECTRICITY_MAP_API_URL", cfg.Carbon.APIConfig.URL)
	cfg.Carbon.Cache.Timeout = getDurationOrDefault("API_TIMEOUT", cfg.Carbon.Cache.Timeout)
	cfg.Carbon.Cache.MaxRetries = getIntOrDefault("API_MAX_RETRIES", cfg.Carbon.Cache.MaxRetries)
	cfg.Carbon.Cache.RetryDelay = getDurationOrDefault("API_RETRY_DELAY", cfg.Carbon.Cache.RetryDelay)
	cfg.Carbon.Cache.RateLimit = getIntOrDefault("API_RATE_LIMIT", cfg.Carbon.Cache.RateLimit)
	cfg.Carbon.Cache.CacheTTL = getDurationOrDefault("CACHE_TTL", cfg.Carbon.Cache.CacheTTL)
	cfg.Carbon.Cache.MaxCacheAge = getDurationOrDefault("MAX_CACHE_AGE", cfg.Carbon.Cache.MaxCacheAge)

	cfg.History.DatabasePath = getEnvOrDefault("CARBON_NODE_HISTORY_DB", cfg.History.DatabasePath)
	cfg.History.Retention = getDurationOrDefault("CARBON_NODE_HISTORY_RETENTION", cfg.History.Retention)

	cfg.Observability.MetricsEnabled = getBoolOrDefault("METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.MetricsAddr = getEnvOrDefault("METRICS_ADDR", cfg.Observability.MetricsAddr)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		value, err := strconv.ParseBool(strValue)
		if err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := time.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}
