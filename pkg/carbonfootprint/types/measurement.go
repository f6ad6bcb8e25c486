package types

import (
	"encoding/json"
	"math"
	"time"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/config"
)

// MeasurementRequest holds the inputs of one measurement cycle.
// LogDirectory is owned by exactly one in-flight measurement.
type MeasurementRequest struct {
	PowerDrawWatts float64 `json:"powerDrawWatts"`
	LatencyMillis  float64 `json:"latencyMillis"`
	LogDirectory   string  `json:"logDirectory"`
	EpochCount     int     `json:"epochCount"`
}

// Window returns the work window covered by the request, capped at max.
// A non-positive max leaves the window uncapped.
func (r MeasurementRequest) Window(max time.Duration) time.Duration {
	if math.IsNaN(r.LatencyMillis) || r.LatencyMillis <= 0 {
		return 0
	}
	ms := math.Min(r.LatencyMillis, float64(math.MaxInt64/int64(time.Millisecond)))
	window := time.Duration(ms * float64(time.Millisecond))
	if max > 0 && window > max {
		return max
	}
	return window
}

// RawSample is what the telemetry backend reported for one epoch set
type RawSample struct {
	CarbonMassGrams float64  `json:"carbonMassGrams"`
	EnergyKwh       *float64 `json:"energyKwh,omitempty"` // absent on some backends
}

// Usable reports whether the sample carries data. Zero carbon means "not recorded".
func (s RawSample) Usable() bool {
	if math.IsNaN(s.CarbonMassGrams) || math.IsInf(s.CarbonMassGrams, 0) || s.CarbonMassGrams <= 0 {
		return false
	}
	if s.EnergyKwh != nil && (math.IsNaN(*s.EnergyKwh) || math.IsInf(*s.EnergyKwh, 0) || *s.EnergyKwh < 0) {
		return false
	}
	return true
}

// WorkerRequest is written to the isolated worker's stdin
type WorkerRequest struct {
	Request       MeasurementRequest     `json:"request"`
	Telemetry     config.TelemetryConfig `json:"telemetry"`
	GridIntensity float64                `json:"gridIntensity"` // gCO2eq/kWh
}

// WorkerResult is the single message the worker writes to its result conduit.
// Exactly one of Sample and Error is set.
type WorkerResult struct {
	Sample *RawSample `json:"sample,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// OutcomeKind enumerates the closed set of measurement outcomes
type OutcomeKind int

const (
	KindSuccess OutcomeKind = iota
	KindTimeout
	KindUnsupported
	KindFailure
)

// String returns the label used in error payloads and metrics
func (k OutcomeKind) String() string {
	switch k {
	case KindSuccess:
		return common.OutcomeSuccess
	case KindTimeout:
		return common.OutcomeTimeout
	case KindUnsupported:
		return common.OutcomeUnsupported
	default:
		return common.OutcomeFailure
	}
}

// Outcome is produced once per request by the worker runner and consumed once
// by the reconciler. Sample is only meaningful for KindSuccess, Reason only for
// KindFailure.
type Outcome struct {
	Kind   OutcomeKind
	Sample RawSample
	Reason string
}

func Success(sample RawSample) Outcome {
	return Outcome{Kind: KindSuccess, Sample: sample}
}

func Timeout() Outcome {
	return Outcome{Kind: KindTimeout}
}

func Unsupported() Outcome {
	return Outcome{Kind: KindUnsupported}
}

func Failure(reason string) Outcome {
	return Outcome{Kind: KindFailure, Reason: reason}
}

// CarbonFootprintRecord is the final output of one invocation. It is built
// fresh every time and never mutated once handed to the publisher.
type CarbonFootprintRecord struct {
	CarbonFootprintKg      float64         `json:"carbon_footprint"`
	EnergyConsumptionWh    float64         `json:"energy_consumption"`
	CarbonIntensityGPerKwh float64         `json:"carbon_intensity"`
	ExtraData              json.RawMessage `json:"extra_data,omitempty"`
}

// ErrorPayload is the structured description carried in ExtraData when a
// measurement or its metadata failed
type ErrorPayload struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
