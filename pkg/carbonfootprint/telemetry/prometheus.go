package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/config"
)

// PrometheusMeter evaluates a PromQL expression that yields cumulative joules,
// such as the Kepler node counters
type PrometheusMeter struct {
	client       v1.API
	query        string
	queryTimeout time.Duration
}

// NewPrometheusMeter probes the query once; an empty result means the
// exporter is not instrumenting this platform
func NewPrometheusMeter(ctx context.Context, cfg config.PrometheusConfig) (*PrometheusMeter, error) {
	client, err := api.NewClient(api.Config{Address: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("error creating Prometheus client: %w", err)
	}
	return newPrometheusMeter(ctx, v1.NewAPI(client), cfg)
}

func newPrometheusMeter(ctx context.Context, client v1.API, cfg config.PrometheusConfig) (*PrometheusMeter, error) {
	query := cfg.Query
	if query == "" {
		query = common.DefaultKeplerQuery
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	m := &PrometheusMeter{client: client, query: query, queryTimeout: timeout}
	if _, err := m.Joules(ctx); err != nil {
		return nil, err
	}

	klog.V(2).InfoS("Opened Prometheus energy meter", "url", cfg.URL, "query", query)
	return m, nil
}

func (m *PrometheusMeter) Name() string {
	return common.BackendPrometheus
}

func (m *PrometheusMeter) Joules(ctx context.Context) (float64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	result, warnings, err := m.client.Query(queryCtx, m.query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("error querying Prometheus for energy counter: %w", err)
	}
	if len(warnings) > 0 {
		klog.V(2).InfoS("Warnings received from Prometheus query",
			"warnings", warnings,
			"query", m.query)
	}

	switch value := result.(type) {
	case model.Vector:
		if len(value) == 0 {
			return 0, fmt.Errorf("%w: query %q returned no series", ErrUnsupported, m.query)
		}
		var total float64
		for _, sample := range value {
			total += float64(sample.Value)
		}
		return total, nil
	case *model.Scalar:
		return float64(value.Value), nil
	default:
		return 0, fmt.Errorf("unexpected Prometheus result type %s for query %q", result.Type(), m.query)
	}
}
