package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "model", cfg.Telemetry.Backend)
	assert.Equal(t, 30*time.Second, cfg.Measurement.Deadline)
	assert.Equal(t, 1, cfg.Measurement.Epochs)
	assert.Equal(t, 475.0, cfg.Carbon.DefaultIntensity)
	assert.NotEmpty(t, cfg.Measurement.LogDirectory)
	assert.Empty(t, cfg.History.DatabasePath)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
node:
  name: edge-01
  listenAddr: ":18080"
measurement:
  deadline: 45s
  teardownDelay: 1s
  epochs: 3
  logDirectory: /var/lib/carbon/logs
telemetry:
  backend: prometheus
  maxWindow: 2s
  prometheus:
    url: http://prometheus:9090
    query: sum(kepler_node_package_joules_total)
    timeout: 5s
carbon:
  defaultIntensity: 300
  cloudProvider: aws
  cloudRegion: eu-west-1
  regionOverrides:
    - provider: aws
      region: eu-west-1
      electricityMapsZone: IE
  api:
    apiKey: test-key
    url: https://example.com/
  cache:
    timeout: 5s
    maxRetries: 2
    retryDelay: 100ms
    rateLimit: 5
    cacheTTL: 30m
    maxCacheAge: 24h
history:
  databasePath: /var/lib/carbon/history.db
  retention: 168h
observability:
  metricsEnabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-01", cfg.Node.Name)
	assert.Equal(t, ":18080", cfg.Node.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.Measurement.Deadline)
	assert.Equal(t, 3, cfg.Measurement.Epochs)
	assert.Equal(t, "prometheus", cfg.Telemetry.Backend)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.MaxWindow)
	assert.Equal(t, "sum(kepler_node_package_joules_total)", cfg.Telemetry.Prometheus.Query)
	assert.Equal(t, 300.0, cfg.Carbon.DefaultIntensity)
	require.Len(t, cfg.Carbon.RegionOverrides, 1)
	assert.Equal(t, "IE", cfg.Carbon.RegionOverrides[0].ElectricityMapsZone)
	assert.Equal(t, 100*time.Millisecond, cfg.Carbon.Cache.RetryDelay)
	assert.Equal(t, 168*time.Hour, cfg.History.Retention)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
measurement:
  epochs: 2
telemetry:
  backend: rapl
`)
	t.Setenv("CARBON_NODE_EPOCHS", "4")
	t.Setenv("CARBON_NODE_BACKEND", "model")
	t.Setenv("CARBON_NODE_DEADLINE", "not-a-duration")
	t.Setenv("ELECTRICITY_MAP_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Measurement.Epochs)
	assert.Equal(t, "model", cfg.Telemetry.Backend)
	assert.Equal(t, 30*time.Second, cfg.Measurement.Deadline, "invalid env values keep the previous value")
	assert.Equal(t, "env-key", cfg.Carbon.APIConfig.APIKey)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown field", body: "measurement:\n  deadlien: 5s\n"},
		{name: "malformed yaml", body: "measurement: [\n"},
		{name: "unknown backend", body: "telemetry:\n  backend: nvml\n"},
		{name: "prometheus without url", body: "telemetry:\n  backend: prometheus\n"},
		{name: "zero epochs", body: "measurement:\n  epochs: 0\n"},
		{name: "negative deadline", body: "measurement:\n  deadline: -1s\n"},
		{name: "incomplete override", body: "carbon:\n  regionOverrides:\n    - provider: aws\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateAPISettings(t *testing.T) {
	cfg := Default()
	cfg.Carbon.APIConfig.APIKey = "key"
	cfg.Carbon.Cache.RateLimit = 0
	assert.Error(t, cfg.Validate())

	cfg.Carbon.Cache.RateLimit = 1
	cfg.Carbon.APIConfig.URL = ""
	assert.Error(t, cfg.Validate())

	cfg.Carbon.APIConfig.URL = "https://example.com/"
	assert.NoError(t, cfg.Validate())
}
