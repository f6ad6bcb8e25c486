package publish

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/metrics"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/reconcile"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

func successRecord() types.CarbonFootprintRecord {
	return types.CarbonFootprintRecord{
		CarbonFootprintKg:      0.05,
		EnergyConsumptionWh:    100,
		CarbonIntensityGPerKwh: 500,
	}
}

func TestPublishMetadata(t *testing.T) {
	tests := []struct {
		name      string
		userExtra string
		expected  string
	}{
		{
			name:      "outputs and restrains",
			userExtra: `{"num_outputs": 3, "model_restrains": ["a"]}`,
			expected:  `{"num_outputs": 3, "model_restrains": ["gpt-x", "a"]}`,
		},
		{
			name:      "no num_outputs",
			userExtra: `{"model_restrains": ["a", "b"]}`,
			expected:  `{"model_restrains": ["gpt-x", "a", "b"]}`,
		},
		{
			name:      "empty object",
			userExtra: `{}`,
			expected:  `{"model_restrains": ["gpt-x"]}`,
		},
		{
			name:      "num_outputs kept as given",
			userExtra: `{"num_outputs": "five", "model_restrains": []}`,
			expected:  `{"num_outputs": "five", "model_restrains": ["gpt-x"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &CarbonFootprintOutput{}
			require.NoError(t, Publish(out, successRecord(), "gpt-x", []byte(tt.userExtra)))

			rec, ok := out.Record()
			require.True(t, ok)
			assert.Equal(t, 0.05, rec.CarbonFootprintKg)
			assert.Equal(t, 100.0, rec.EnergyConsumptionWh)
			assert.Equal(t, 500.0, rec.CarbonIntensityGPerKwh)
			assert.JSONEq(t, tt.expected, string(rec.ExtraData))
		})
	}
}

func TestPublishWithoutMetadata(t *testing.T) {
	out := &CarbonFootprintOutput{}
	require.NoError(t, Publish(out, successRecord(), "gpt-x", nil))

	rec, ok := out.Record()
	require.True(t, ok)
	assert.Empty(t, rec.ExtraData)
}

func TestPublishKeepsErrorPayload(t *testing.T) {
	errRec := reconcile.Reconcile(types.Timeout(), 10)

	out := &CarbonFootprintOutput{}
	require.NoError(t, Publish(out, errRec, "gpt-x", []byte(`{"model_restrains": ["a"]}`)))

	rec, _ := out.Record()
	assert.Equal(t, 0.0, rec.CarbonFootprintKg)
	assert.JSONEq(t, `{"error": "timeout"}`, string(rec.ExtraData))
}

func TestPublishMetadataError(t *testing.T) {
	before := testutil.ToFloat64(metrics.MetadataErrors)

	out := &CarbonFootprintOutput{}
	err := Publish(out, successRecord(), "gpt-x", []byte(`{"model_restrains": "not a list"}`))
	require.Error(t, err)

	rec, ok := out.Record()
	require.True(t, ok, "numeric fields are still published")
	assert.Equal(t, 0.05, rec.CarbonFootprintKg)
	assert.Equal(t, 100.0, rec.EnergyConsumptionWh)

	var payload types.ErrorPayload
	require.NoError(t, json.Unmarshal(rec.ExtraData, &payload))
	assert.Equal(t, "metadata", payload.Error)
	assert.NotEmpty(t, payload.Reason)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MetadataErrors))
}

func TestPublishIsTerminal(t *testing.T) {
	out := &CarbonFootprintOutput{}
	require.NoError(t, Publish(out, successRecord(), "gpt-x", nil))

	err := Publish(out, types.CarbonFootprintRecord{CarbonFootprintKg: 9}, "gpt-x", nil)
	assert.ErrorIs(t, err, ErrAlreadyPublished)

	rec, _ := out.Record()
	assert.Equal(t, 0.05, rec.CarbonFootprintKg)
}

func TestPublishConcurrentOnlyOneWins(t *testing.T) {
	out := &CarbonFootprintOutput{}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- Publish(out, successRecord(), "gpt-x", nil)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestOutputMarshalJSON(t *testing.T) {
	out := &CarbonFootprintOutput{}
	require.NoError(t, Publish(out, successRecord(), "gpt-x", []byte(`{"num_outputs": 1}`)))

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"carbon_footprint": 0.05,
		"energy_consumption": 100,
		"carbon_intensity": 500,
		"extra_data": {"num_outputs": 1, "model_restrains": ["gpt-x"]}
	}`, string(data))
}

func TestPublishNilOutput(t *testing.T) {
	assert.Error(t, Publish(nil, successRecord(), "gpt-x", nil))
}
