package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/telemetry"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

// MeasureFunc performs the measurement inside the worker process
type MeasureFunc func(ctx context.Context, req types.WorkerRequest) (types.RawSample, error)

// Serve is the body of the worker process. It reads one request from in,
// writes one result to out and returns the process exit code.
func Serve(ctx context.Context, in io.Reader, out io.Writer, measure MeasureFunc) int {
	var req types.WorkerRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		klog.ErrorS(err, "Failed to decode worker request")
		writeResult(out, types.WorkerResult{Error: "invalid worker request: " + err.Error()})
		return common.ExitCodeBadRequest
	}

	sample, err := measure(ctx, req)
	if err != nil {
		if errors.Is(err, telemetry.ErrUnsupported) {
			klog.InfoS("Telemetry backend unsupported on this platform",
				"backend", req.Telemetry.Backend, "err", err)
			return common.ExitCodeUnsupported
		}
		klog.ErrorS(err, "Measurement failed", "backend", req.Telemetry.Backend)
		writeResult(out, types.WorkerResult{Error: err.Error()})
		return common.ExitCodeSuccess
	}

	klog.V(2).InfoS("Measurement complete",
		"carbonMassGrams", sample.CarbonMassGrams,
		"energyKwh", sample.EnergyKwh)
	if !writeResult(out, types.WorkerResult{Sample: &sample}) {
		return common.ExitCodeBadRequest
	}
	return common.ExitCodeSuccess
}

func writeResult(out io.Writer, result types.WorkerResult) bool {
	if err := json.NewEncoder(out).Encode(result); err != nil {
		klog.ErrorS(err, "Failed to write worker result")
		return false
	}
	return true
}
