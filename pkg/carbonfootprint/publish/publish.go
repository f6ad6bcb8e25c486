// Package publish copies a reconciled record into the caller-owned output
// object together with the task metadata taken from the user input
package publish

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/metrics"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/reconcile"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

// ErrAlreadyPublished is returned when an output is written twice
var ErrAlreadyPublished = errors.New("carbon footprint output already published")

// CarbonFootprintOutput is the output object handed to the task callback by
// the transport. It accepts exactly one publish.
type CarbonFootprintOutput struct {
	mu        sync.Mutex
	published bool
	record    types.CarbonFootprintRecord
}

// Record returns what was published and whether anything was
func (o *CarbonFootprintOutput) Record() (types.CarbonFootprintRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record, o.published
}

// MarshalJSON encodes the published record, or zero values before publishing
func (o *CarbonFootprintOutput) MarshalJSON() ([]byte, error) {
	rec, _ := o.Record()
	return json.Marshal(rec)
}

func (o *CarbonFootprintOutput) set(rec types.CarbonFootprintRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.published {
		return ErrAlreadyPublished
	}
	o.record = rec
	o.published = true
	return nil
}

// taskMetadata is the optional JSON object in the user input extra data
type taskMetadata struct {
	NumOutputs     json.RawMessage `json:"num_outputs,omitempty"`
	ModelRestrains []string        `json:"model_restrains"`
}

// Publish writes rec to out. For successful records the task metadata in
// userExtra is decoded and the model identifier is prepended to its model
// restrains. A metadata decoding error is returned for logging only: the
// numeric fields are still published, with an error payload as ExtraData.
func Publish(out *CarbonFootprintOutput, rec types.CarbonFootprintRecord, modelID string, userExtra []byte) error {
	if out == nil {
		return fmt.Errorf("nil carbon footprint output")
	}

	final := types.CarbonFootprintRecord{
		CarbonFootprintKg:      rec.CarbonFootprintKg,
		EnergyConsumptionWh:    rec.EnergyConsumptionWh,
		CarbonIntensityGPerKwh: rec.CarbonIntensityGPerKwh,
	}

	var metaErr error
	switch {
	case len(rec.ExtraData) > 0:
		final.ExtraData = append(json.RawMessage(nil), rec.ExtraData...)
	case len(bytes.TrimSpace(userExtra)) > 0:
		final.ExtraData, metaErr = buildMetadata(modelID, userExtra)
		if metaErr != nil {
			metrics.MetadataErrors.Inc()
			final.ExtraData, _ = reconcile.ErrorData(common.OutcomeMetadata, metaErr.Error())
		}
	}

	if err := out.set(final); err != nil {
		return err
	}
	klog.V(3).InfoS("Published carbon footprint",
		"model", modelID,
		"carbonFootprintKg", final.CarbonFootprintKg,
		"energyConsumptionWh", final.EnergyConsumptionWh,
		"carbonIntensity", final.CarbonIntensityGPerKwh)

	if metaErr != nil {
		return fmt.Errorf("failed to decode task metadata: %w", metaErr)
	}
	return nil
}

func buildMetadata(modelID string, userExtra []byte) (json.RawMessage, error) {
	var meta taskMetadata
	if err := json.Unmarshal(userExtra, &meta); err != nil {
		return nil, err
	}
	meta.ModelRestrains = append([]string{modelID}, meta.ModelRestrains...)
	return json.Marshal(meta)
}
