package telemetry

import (
	"context"
	"math"
	"time"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/clock"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
)

// ModelMeter integrates a constant power draw over elapsed time. It works on
// any platform and is the default backend.
type ModelMeter struct {
	watts float64
	clock clock.Clock
	start time.Time
}

// NewModelMeter treats an unusable power draw as zero watts
func NewModelMeter(watts float64, clk clock.Clock) *ModelMeter {
	if math.IsNaN(watts) || math.IsInf(watts, 0) || watts < 0 {
		watts = 0
	}
	return &ModelMeter{watts: watts, clock: clk, start: clk.Now()}
}

func (m *ModelMeter) Name() string {
	return common.BackendModel
}

func (m *ModelMeter) Joules(ctx context.Context) (float64, error) {
	return m.watts * m.clock.Since(m.start).Seconds(), nil
}
