package reconcile

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

func TestEstimateEnergyWh(t *testing.T) {
	tests := []struct {
		name      string
		powerW    float64
		latencyMs float64
		expected  float64
	}{
		{name: "one hour at 100W", powerW: 100, latencyMs: 3_600_000, expected: 100},
		{name: "gpu inference", powerW: 250, latencyMs: 1200, expected: 250 * 1200 / 3_600_000.0},
		{name: "zero power", powerW: 0, latencyMs: 1000, expected: 0},
		{name: "zero latency", powerW: 100, latencyMs: 0, expected: 0},
		{name: "negative power", powerW: -5, latencyMs: 1000, expected: 0},
		{name: "nan latency", powerW: 100, latencyMs: math.NaN(), expected: 0},
		{name: "infinite power", powerW: math.Inf(1), latencyMs: 1000, expected: 0},
		{name: "overflowing product", powerW: math.MaxFloat64, latencyMs: math.MaxFloat64, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, EstimateEnergyWh(tt.powerW, tt.latencyMs), 1e-12)
		})
	}
}

func TestReconcileSuccess(t *testing.T) {
	rec := Reconcile(types.Success(types.RawSample{CarbonMassGrams: 50, EnergyKwh: ptr.To(0.1)}), 100)

	assert.InDelta(t, 0.05, rec.CarbonFootprintKg, 1e-12)
	assert.Equal(t, 100.0, rec.EnergyConsumptionWh)
	assert.InDelta(t, 500.0, rec.CarbonIntensityGPerKwh, 1e-9)
	assert.Nil(t, rec.ExtraData)
}

func TestReconcileSuccessWithoutEnergy(t *testing.T) {
	rec := Reconcile(types.Success(types.RawSample{CarbonMassGrams: 2}), 0)

	assert.InDelta(t, 0.002, rec.CarbonFootprintKg, 1e-12)
	assert.Equal(t, 0.0, rec.EnergyConsumptionWh)
	assert.Equal(t, 0.0, rec.CarbonIntensityGPerKwh)
	assert.Nil(t, rec.ExtraData)
}

func TestReconcileNonSuccess(t *testing.T) {
	tests := []struct {
		name     string
		outcome  types.Outcome
		expected types.ErrorPayload
	}{
		{
			name:     "timeout",
			outcome:  types.Timeout(),
			expected: types.ErrorPayload{Error: common.OutcomeTimeout},
		},
		{
			name:     "unsupported",
			outcome:  types.Unsupported(),
			expected: types.ErrorPayload{Error: common.OutcomeUnsupported},
		},
		{
			name:     "failure",
			outcome:  types.Failure(common.ReasonNoEntry),
			expected: types.ErrorPayload{Error: common.OutcomeFailure, Reason: common.ReasonNoEntry},
		},
		{
			name:     "zero carbon sample",
			outcome:  types.Success(types.RawSample{CarbonMassGrams: 0, EnergyKwh: ptr.To(1.0)}),
			expected: types.ErrorPayload{Error: common.OutcomeFailure, Reason: common.ReasonInvalidSample},
		},
		{
			name:     "nan sample",
			outcome:  types.Success(types.RawSample{CarbonMassGrams: math.NaN()}),
			expected: types.ErrorPayload{Error: common.OutcomeFailure, Reason: common.ReasonInvalidSample},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Reconcile(tt.outcome, 42)

			assert.Equal(t, 0.0, rec.CarbonFootprintKg)
			assert.Equal(t, 0.0, rec.EnergyConsumptionWh)
			assert.Equal(t, 0.0, rec.CarbonIntensityGPerKwh)

			var payload types.ErrorPayload
			require.NoError(t, json.Unmarshal(rec.ExtraData, &payload))
			assert.Equal(t, tt.expected, payload)
		})
	}
}

func TestReconcileTimeoutPayloadShape(t *testing.T) {
	rec := Reconcile(types.Timeout(), 10)
	assert.JSONEq(t, `{"error":"timeout"}`, string(rec.ExtraData))
}
