package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/clock"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
)

// TrackerOptions describe how epoch readings become log entries
type TrackerOptions struct {
	Epochs        int
	Scale         float64 // Full task duration over the measured window, >= 1
	GridIntensity float64 // gCO2eq/kWh
}

// Tracker drives epoch boundaries on a meter and appends one JSON line per
// epoch to its own log file
type Tracker struct {
	meter EnergyMeter
	clock clock.Clock
	opts  TrackerOptions
	file  *os.File
	enc   *json.Encoder

	inEpoch    bool
	epochStart time.Time
	startJ     float64
	done       int
	totalJ     float64
	totalDur   time.Duration
}

// OpenTracker creates a fresh log file in dir
func OpenTracker(meter EnergyMeter, clk clock.Clock, dir string, opts TrackerOptions) (*Tracker, error) {
	if opts.Epochs < 1 {
		return nil, fmt.Errorf("epoch count must be at least 1, got %d", opts.Epochs)
	}
	if opts.Scale < 1 {
		opts.Scale = 1
	}

	path := filepath.Join(dir, uuid.NewString()+logSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker log: %w", err)
	}

	return &Tracker{
		meter: meter,
		clock: clk,
		opts:  opts,
		file:  f,
		enc:   json.NewEncoder(f),
	}, nil
}

// EpochStart records the counter at the start of an epoch
func (t *Tracker) EpochStart(ctx context.Context) error {
	if t.inEpoch {
		return fmt.Errorf("epoch %d already started", t.done+1)
	}
	j, err := t.meter.Joules(ctx)
	if err != nil {
		return fmt.Errorf("failed to read %s meter at epoch start: %w", t.meter.Name(), err)
	}
	t.inEpoch = true
	t.startJ = j
	t.epochStart = t.clock.Now()
	return nil
}

// EpochEnd reads the counter again and logs the extrapolated prediction
func (t *Tracker) EpochEnd(ctx context.Context) error {
	if !t.inEpoch {
		return fmt.Errorf("epoch ended without being started")
	}
	j, err := t.meter.Joules(ctx)
	if err != nil {
		return fmt.Errorf("failed to read %s meter at epoch end: %w", t.meter.Name(), err)
	}
	delta := j - t.startJ
	if delta < 0 {
		return fmt.Errorf("%s energy counter went backwards by %f J", t.meter.Name(), -delta)
	}

	t.inEpoch = false
	t.done++
	t.totalJ += delta
	dur := t.clock.Since(t.epochStart)
	t.totalDur += dur

	predJ := t.totalJ / float64(t.done) * float64(t.opts.Epochs) * t.opts.Scale
	entry := LogEntry{
		Epoch:           t.done,
		Timestamp:       t.clock.Now().UTC(),
		DurationSeconds: dur.Seconds(),
		Pred:            t.consumption(predJ),
	}
	if err := t.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write tracker log: %w", err)
	}

	klog.V(4).InfoS("Epoch measured",
		"epoch", t.done,
		"backend", t.meter.Name(),
		"joules", delta,
		"duration", dur)
	return nil
}

// Stop writes the measured totals and closes the log file
func (t *Tracker) Stop() error {
	if t.file == nil {
		return nil
	}
	summary := LogEntry{
		Timestamp:       t.clock.Now().UTC(),
		DurationSeconds: t.totalDur.Seconds(),
		Actual:          t.consumption(t.totalJ),
	}
	encErr := t.enc.Encode(summary)
	closeErr := t.file.Close()
	t.file = nil

	if encErr != nil {
		return fmt.Errorf("failed to write tracker summary: %w", encErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close tracker log: %w", closeErr)
	}
	return nil
}

// Close releases the log file without writing a summary
func (t *Tracker) Close() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

func (t *Tracker) consumption(joules float64) *Consumption {
	kwh := joules / common.JoulesPerKWh
	return &Consumption{
		EnergyKWh:  ptr.To(kwh),
		CO2eqGrams: kwh * t.opts.GridIntensity,
	}
}
