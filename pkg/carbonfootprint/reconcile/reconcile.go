// Package reconcile turns a measurement Outcome into the CarbonFootprintRecord
// reported to the caller
package reconcile

import (
	"encoding/json"
	"math"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

// EstimateEnergyWh converts a power draw held for latencyMs into watt-hours.
// Unusable inputs yield 0.
func EstimateEnergyWh(powerW, latencyMs float64) float64 {
	if !usable(powerW) || !usable(latencyMs) {
		return 0
	}
	wh := powerW * latencyMs / common.MillisPerHour
	if math.IsInf(wh, 0) {
		return 0
	}
	return wh
}

func usable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Reconcile builds the record for one invocation. energyWh is the estimate
// from the hardware's nominal power and latency, which is reported as the
// energy consumption in preference to the backend's own reading.
func Reconcile(outcome types.Outcome, energyWh float64) types.CarbonFootprintRecord {
	if outcome.Kind == types.KindSuccess {
		if outcome.Sample.Usable() {
			return fromSample(outcome.Sample, energyWh)
		}
		klog.V(2).InfoS("Discarding invalid sample", "carbonMassGrams", outcome.Sample.CarbonMassGrams)
		outcome = types.Failure(common.ReasonInvalidSample)
	}
	return errorRecord(outcome)
}

func fromSample(sample types.RawSample, energyWh float64) types.CarbonFootprintRecord {
	if !usable(energyWh) {
		energyWh = 0
	}
	intensity := 0.0
	if energyWh > 0 {
		intensity = sample.CarbonMassGrams / (energyWh / common.WattHoursPerKWh)
	}
	return types.CarbonFootprintRecord{
		CarbonFootprintKg:      sample.CarbonMassGrams / common.GramsPerKg,
		EnergyConsumptionWh:    energyWh,
		CarbonIntensityGPerKwh: intensity,
	}
}

func errorRecord(outcome types.Outcome) types.CarbonFootprintRecord {
	extra, err := ErrorData(outcome.Kind.String(), outcome.Reason)
	if err != nil {
		klog.ErrorS(err, "Failed to encode error payload", "outcome", outcome.Kind)
	}
	return types.CarbonFootprintRecord{ExtraData: extra}
}

// ErrorData encodes the error payload carried in a record's ExtraData
func ErrorData(kind, reason string) (json.RawMessage, error) {
	return json.Marshal(types.ErrorPayload{Error: kind, Reason: reason})
}
