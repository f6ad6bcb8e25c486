// Package worker runs a measurement in a separate OS process so that a hang,
// crash or unsupported platform in the telemetry backend never takes the node
// down with it. The parent writes a WorkerRequest to the child's stdin and
// reads back a single WorkerResult from its stdout.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

// Runner spawns the worker process for each measurement
type Runner struct {
	command       string
	args          []string
	env           []string
	stderr        io.Writer
	teardownDelay time.Duration
}

// Option customizes a Runner
type Option func(*Runner)

// WithCommand overrides the executable and arguments used for the worker
func WithCommand(command string, args ...string) Option {
	return func(r *Runner) {
		r.command = command
		r.args = args
	}
}

// WithEnv appends environment variables to the worker's environment
func WithEnv(env ...string) Option {
	return func(r *Runner) {
		r.env = append(r.env, env...)
	}
}

// WithStderr sets where worker diagnostics are forwarded
func WithStderr(w io.Writer) Option {
	return func(r *Runner) {
		r.stderr = w
	}
}

// WithTeardownDelay bounds how long Run waits for the worker's pipes to close
// after it has been killed
func WithTeardownDelay(d time.Duration) Option {
	return func(r *Runner) {
		r.teardownDelay = d
	}
}

// NewRunner creates a runner that re-executes the current binary with the
// worker command
func NewRunner(opts ...Option) (*Runner, error) {
	r := &Runner{
		stderr:        os.Stderr,
		teardownDelay: common.DefaultTeardownDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate own executable: %w", err)
		}
		r.command = self
		r.args = []string{common.WorkerCommand}
	}
	return r, nil
}

// Run executes one measurement in a fresh worker process and maps how it
// ended onto an Outcome. It never returns an error; every failure becomes a
// Failure outcome.
func (r *Runner) Run(ctx context.Context, req types.WorkerRequest, deadline time.Duration) types.Outcome {
	payload, err := json.Marshal(req)
	if err != nil {
		return types.Failure(fmt.Sprintf("failed to encode worker request: %v", err))
	}

	runCtx := ctx
	var cancel context.CancelFunc = func() {}
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, deadline)
	}
	defer cancel()

	var killed atomic.Bool
	var conduit bytes.Buffer

	cmd := exec.CommandContext(runCtx, r.command, r.args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &conduit
	cmd.Stderr = r.stderr
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	cmd.Cancel = func() error {
		err := cmd.Process.Kill()
		if err == nil {
			killed.Store(true)
		}
		return err
	}
	cmd.WaitDelay = r.teardownDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return types.Failure(fmt.Sprintf("failed to start worker: %v", err))
	}
	klog.V(4).InfoS("Worker started", "pid", cmd.Process.Pid, "deadline", deadline)

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if killed.Load() {
		if ctx.Err() != nil {
			klog.V(2).InfoS("Worker killed after parent cancellation", "elapsed", elapsed)
			return types.Failure(common.ReasonCancelled)
		}
		klog.V(2).InfoS("Worker killed at deadline", "deadline", deadline, "elapsed", elapsed)
		return types.Timeout()
	}

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return types.Failure(fmt.Sprintf("failed waiting for worker: %v", waitErr))
		}
		code = exitErr.ExitCode()
	}
	klog.V(4).InfoS("Worker exited", "code", code, "elapsed", elapsed, "resultBytes", conduit.Len())

	if code == common.ExitCodeUnsupported {
		return types.Unsupported()
	}

	result, decodeErr := decodeResult(conduit.Bytes())
	if code != common.ExitCodeSuccess {
		if decodeErr == nil && result != nil && result.Error != "" {
			return types.Failure(result.Error)
		}
		return types.Failure(fmt.Sprintf("worker exited with code %d", code))
	}

	switch {
	case decodeErr != nil:
		return types.Failure(fmt.Sprintf("malformed result: %v", decodeErr))
	case result == nil:
		return types.Failure(common.ReasonNoResult)
	case result.Error != "":
		return types.Failure(result.Error)
	case result.Sample == nil:
		return types.Failure("malformed result: neither sample nor error set")
	default:
		return types.Success(*result.Sample)
	}
}

// decodeResult reads exactly one WorkerResult. An empty conduit yields nil.
func decodeResult(data []byte) (*types.WorkerResult, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var result types.WorkerResult
	if err := dec.Decode(&result); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after result")
	}
	return &result, nil
}
