package telemetry

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/clock"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

// Adapter runs one tracked measurement and reads its result back from the
// backend logs
type Adapter struct {
	clock    clock.Clock
	newMeter MeterFactory
}

// AdapterOption customizes an Adapter
type AdapterOption func(*Adapter)

// WithClock paces the work window with clk
func WithClock(clk clock.Clock) AdapterOption {
	return func(a *Adapter) {
		a.clock = clk
	}
}

// WithMeterFactory replaces backend selection
func WithMeterFactory(f MeterFactory) AdapterOption {
	return func(a *Adapter) {
		a.newMeter = f
	}
}

// NewAdapter creates an adapter using the wall clock and NewMeter
func NewAdapter(opts ...AdapterOption) *Adapter {
	a := &Adapter{
		clock:    clock.RealClock{},
		newMeter: NewMeter,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Measure starts the backend, waits out the work window split across the
// requested epochs, stops it and returns the most recent non-zero log entry.
// Errors wrapping ErrUnsupported mean the platform cannot be instrumented.
func (a *Adapter) Measure(ctx context.Context, wr types.WorkerRequest) (types.RawSample, error) {
	req := wr.Request
	if req.EpochCount < 1 {
		return types.RawSample{}, fmt.Errorf("epoch count must be at least 1, got %d", req.EpochCount)
	}
	if req.LogDirectory == "" {
		return types.RawSample{}, fmt.Errorf("log directory is required")
	}

	if err := PrepareLogDirectory(req.LogDirectory); err != nil {
		return types.RawSample{}, err
	}

	meter, err := a.newMeter(ctx, wr.Telemetry, req, a.clock)
	if err != nil {
		return types.RawSample{}, err
	}

	window := req.Window(wr.Telemetry.MaxWindow)
	scale := 1.0
	if full := req.Window(0); window > 0 && full > window {
		scale = float64(full) / float64(window)
	}

	tracker, err := OpenTracker(meter, a.clock, req.LogDirectory, TrackerOptions{
		Epochs:        req.EpochCount,
		Scale:         scale,
		GridIntensity: wr.GridIntensity,
	})
	if err != nil {
		return types.RawSample{}, err
	}
	defer tracker.Close()

	klog.V(2).InfoS("Starting tracked measurement",
		"backend", meter.Name(),
		"epochs", req.EpochCount,
		"window", window,
		"scale", scale,
		"gridIntensity", wr.GridIntensity)

	perEpoch := window / time.Duration(req.EpochCount)
	for i := 0; i < req.EpochCount; i++ {
		if err := tracker.EpochStart(ctx); err != nil {
			return types.RawSample{}, err
		}
		select {
		case <-ctx.Done():
			return types.RawSample{}, fmt.Errorf("measurement window interrupted: %w", ctx.Err())
		case <-a.clock.After(perEpoch):
		}
		if err := tracker.EpochEnd(ctx); err != nil {
			return types.RawSample{}, err
		}
	}

	if err := tracker.Stop(); err != nil {
		return types.RawSample{}, err
	}

	entries, err := ParseLogs(req.LogDirectory)
	if err != nil {
		return types.RawSample{}, err
	}
	return LatestSample(entries)
}
