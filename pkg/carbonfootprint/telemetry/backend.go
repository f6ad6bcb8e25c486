// Package telemetry wraps a hardware energy source in the start/stop/read-log
// lifecycle of a carbon tracker. Exactly one backend is active per
// measurement; it reports cumulative joules and the tracker turns deltas into
// CO2 log entries under the measurement's log directory.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/clock"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/config"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

var (
	// ErrUnsupported means the platform can never be instrumented by the
	// selected backend, as opposed to a transient failure
	ErrUnsupported = errors.New("hardware platform not supported by telemetry backend")

	// ErrNoEntry means the logs held no entry with a positive carbon mass
	ErrNoEntry = errors.New(common.ReasonNoEntry)
)

// EnergyMeter reads a cumulative energy counter. Only differences between
// two readings are meaningful.
type EnergyMeter interface {
	Name() string
	Joules(ctx context.Context) (float64, error)
}

// MeterFactory builds the meter for one measurement
type MeterFactory func(ctx context.Context, cfg config.TelemetryConfig, req types.MeasurementRequest, clk clock.Clock) (EnergyMeter, error)

// NewMeter builds the meter selected by cfg.Backend
func NewMeter(ctx context.Context, cfg config.TelemetryConfig, req types.MeasurementRequest, clk clock.Clock) (EnergyMeter, error) {
	switch cfg.Backend {
	case common.BackendModel, "":
		return NewModelMeter(req.PowerDrawWatts, clk), nil
	case common.BackendRAPL:
		m, err := NewRAPLMeter(cfg.RAPLPath)
		if err != nil {
			return nil, err
		}
		return m, nil
	case common.BackendPrometheus:
		m, err := NewPrometheusMeter(ctx, cfg.Prometheus)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown telemetry backend %q", cfg.Backend)
	}
}
