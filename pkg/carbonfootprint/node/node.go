// Package node exposes the carbon footprint task and configuration callbacks
// and serves them over HTTP. Each task runs its measurement in an isolated
// worker process and always publishes a record, falling back to an error
// record when the measurement does not succeed.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/api"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/cache"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/config"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/grid"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/metrics"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/publish"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/reconcile"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/store"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/worker"
)

// MeasurementRunner runs one supervised measurement
type MeasurementRunner interface {
	Run(ctx context.Context, req types.WorkerRequest, deadline time.Duration) types.Outcome
}

// IntensityResolver returns the grid carbon intensity for the node's zone
type IntensityResolver interface {
	Resolve(ctx context.Context) grid.Intensity
}

// Node handles carbon footprint tasks
type Node struct {
	cfg      *config.Config
	runner   MeasurementRunner
	resolver IntensityResolver
	history  store.History
	status   *NodeStatus

	// one measurement at a time, they share the log directory
	taskMu sync.Mutex

	closers []func()
}

// Option customizes a Node
type Option func(*Node)

// WithRunner replaces the isolated worker runner
func WithRunner(r MeasurementRunner) Option {
	return func(n *Node) {
		n.runner = r
	}
}

// WithResolver replaces the grid intensity resolver
func WithResolver(r IntensityResolver) Option {
	return func(n *Node) {
		n.resolver = r
	}
}

// WithHistory records every task in h
func WithHistory(h store.History) Option {
	return func(n *Node) {
		n.history = h
	}
}

// New creates a node from cfg. Collaborators not supplied as options are
// built from the configuration.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	n := &Node{
		cfg:    cfg,
		status: NewNodeStatus(cfg.Node.Name),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.runner == nil {
		r, err := worker.NewRunner(worker.WithTeardownDelay(cfg.Measurement.TeardownDelay))
		if err != nil {
			return nil, err
		}
		n.runner = r
	}

	if n.resolver == nil {
		n.resolver = n.newResolver()
	}

	if n.history == nil && cfg.History.DatabasePath != "" {
		h, err := store.NewSQLiteHistory(cfg.History.DatabasePath)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to open measurement history: %w", err)
		}
		n.history = h
		n.closers = append(n.closers, func() { h.Close() })

		if cfg.History.Retention > 0 {
			if _, err := h.Cleanup(time.Now().Add(-cfg.History.Retention)); err != nil {
				klog.ErrorS(err, "Failed to prune measurement history")
			}
		}
	}

	klog.InfoS("Carbon footprint node created",
		"node", cfg.Node.Name,
		"backend", cfg.Telemetry.Backend,
		"deadline", cfg.Measurement.Deadline,
		"epochs", cfg.Measurement.Epochs,
		"historyEnabled", n.history != nil)
	return n, nil
}

func (n *Node) newResolver() IntensityResolver {
	if n.cfg.Carbon.APIConfig.APIKey == "" {
		klog.V(2).InfoS("No Electricity Maps API key, using default grid intensity",
			"intensity", n.cfg.Carbon.DefaultIntensity)
		return grid.NewResolver(n.cfg.Carbon, nil)
	}

	c := cache.New(n.cfg.Carbon.Cache.CacheTTL, n.cfg.Carbon.Cache.MaxCacheAge)
	client := api.NewClient(n.cfg.Carbon.APIConfig, n.cfg.Carbon.Cache, api.WithCache(c))
	n.closers = append(n.closers, client.Close, c.Close)
	return grid.NewResolver(n.cfg.Carbon, client)
}

// Status returns the status updated by Task
func (n *Node) Status() *NodeStatus {
	return n.status
}

// History returns the measurement history, or nil when disabled
func (n *Node) History() store.History {
	return n.history
}

// Close releases the API client, cache and history database
func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}

// Task estimates the carbon footprint of running model on hw and publishes
// it to out. It never fails: every problem ends up as an error record. The
// returned snapshot is the status this task left behind.
func (n *Node) Task(ctx context.Context, model ModelDescriptor, input UserInput, hw HardwareDescriptor, status *NodeStatus, out *publish.CarbonFootprintOutput) (snapshot NodeStatusSnapshot) {
	n.taskMu.Lock()
	defer n.taskMu.Unlock()

	if status == nil {
		status = n.status
	}
	start := time.Now()
	status.begin(start)

	modelID := ""
	defer func() {
		if r := recover(); r != nil {
			klog.ErrorS(fmt.Errorf("%v", r), "Recovered from panic in task callback", "model", modelID)
			rec := reconcile.Reconcile(types.Failure(common.ReasonPanic), 0)
			if err := publish.Publish(out, rec, modelID, nil); err != nil && !errors.Is(err, publish.ErrAlreadyPublished) {
				klog.ErrorS(err, "Failed to publish fallback carbon footprint", "model", modelID)
			}
			metrics.MeasurementsTotal.WithLabelValues(common.OutcomeFailure).Inc()
			status.finish(common.OutcomeFailure, true)
			snapshot = status.Snapshot()
		}
	}()

	if model != nil {
		modelID = model.Model()
	}
	var userExtra []byte
	if input != nil {
		userExtra = input.ExtraData()
	}

	m := n.measure(ctx, modelID, hw)
	kind := m.outcome.Kind.String()

	if err := publish.Publish(out, m.record, modelID, userExtra); err != nil {
		klog.ErrorS(err, "Failed to publish carbon footprint", "model", modelID)
	}

	elapsed := time.Since(start)
	metrics.MeasurementsTotal.WithLabelValues(kind).Inc()
	metrics.MeasurementDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	metrics.CarbonFootprint.Set(m.record.CarbonFootprintKg)
	metrics.EnergyConsumption.Set(m.record.EnergyConsumptionWh)
	metrics.CarbonIntensity.Set(m.record.CarbonIntensityGPerKwh)

	if m.outcome.Kind == types.KindSuccess {
		klog.InfoS("Carbon footprint measured",
			"model", modelID,
			"carbonFootprintKg", m.record.CarbonFootprintKg,
			"energyConsumptionWh", m.record.EnergyConsumptionWh,
			"carbonIntensity", m.record.CarbonIntensityGPerKwh,
			"elapsed", elapsed)
	} else {
		klog.InfoS("Carbon footprint measurement did not succeed",
			"model", modelID,
			"outcome", kind,
			"reason", m.outcome.Reason,
			"elapsed", elapsed)
	}

	n.record(start, modelID, m)
	status.finish(kind, m.outcome.Kind != types.KindSuccess)
	return status.Snapshot()
}

type measurement struct {
	outcome   types.Outcome
	record    types.CarbonFootprintRecord
	intensity grid.Intensity
}

func (n *Node) measure(ctx context.Context, modelID string, hw HardwareDescriptor) (m measurement) {
	defer func() {
		if r := recover(); r != nil {
			klog.ErrorS(fmt.Errorf("%v", r), "Recovered from panic during measurement", "model", modelID)
			m.outcome = types.Failure(common.ReasonPanic)
			m.record = reconcile.Reconcile(m.outcome, 0)
		}
	}()

	if hw == nil {
		m.outcome = types.Failure("missing hardware descriptor")
		m.record = reconcile.Reconcile(m.outcome, 0)
		return m
	}

	power := hw.PowerConsumptionWatts()
	latency := hw.LatencyMillis()
	energyWh := reconcile.EstimateEnergyWh(power, latency)

	m.intensity = n.resolveIntensity(ctx)
	klog.V(2).InfoS("Starting supervised measurement",
		"model", modelID,
		"hardware", hw.HardwareDescription(),
		"powerW", power,
		"latencyMs", latency,
		"energyWh", energyWh,
		"gridIntensity", m.intensity.GramsPerKWh,
		"intensitySource", m.intensity.Source)

	req := types.WorkerRequest{
		Request: types.MeasurementRequest{
			PowerDrawWatts: power,
			LatencyMillis:  latency,
			LogDirectory:   n.cfg.Measurement.LogDirectory,
			EpochCount:     n.cfg.Measurement.Epochs,
		},
		Telemetry:     n.cfg.Telemetry,
		GridIntensity: m.intensity.GramsPerKWh,
	}
	m.outcome = n.runner.Run(ctx, req, n.cfg.Measurement.Deadline)
	if m.outcome.Kind == types.KindSuccess && !m.outcome.Sample.Usable() {
		m.outcome = types.Failure(common.ReasonInvalidSample)
	}
	m.record = reconcile.Reconcile(m.outcome, energyWh)
	return m
}

// resolveIntensity bounds the grid lookup so that API retries cannot delay
// the measurement; the resolver degrades to the default on expiry
func (n *Node) resolveIntensity(ctx context.Context) grid.Intensity {
	if timeout := n.cfg.Carbon.Cache.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return n.resolver.Resolve(ctx)
}

func (n *Node) record(ts time.Time, modelID string, m measurement) {
	if n.history == nil {
		return
	}

	entry := types.HistoryEntry{
		ID:                     uuid.NewString(),
		Timestamp:              ts,
		Model:                  modelID,
		Outcome:                m.outcome.Kind.String(),
		Reason:                 m.outcome.Reason,
		CarbonFootprintKg:      m.record.CarbonFootprintKg,
		EnergyConsumptionWh:    m.record.EnergyConsumptionWh,
		CarbonIntensityGPerKwh: m.record.CarbonIntensityGPerKwh,
		GridIntensity:          m.intensity.GramsPerKWh,
	}
	if m.outcome.Kind == types.KindSuccess {
		entry.BackendEnergyKwh = m.outcome.Sample.EnergyKwh
	}
	if err := n.history.Store(entry); err != nil {
		klog.ErrorS(err, "Failed to record measurement history", "model", modelID)
	}
}

// Configure rejects every configuration request; the node has no runtime
// configuration surface
func (n *Node) Configure(req ConfigurationRequest) ConfigurationResponse {
	msg, _ := json.Marshal(map[string]string{"message": common.ReasonConfigRejection})
	klog.V(2).InfoS("Rejected configuration request",
		"nodeID", req.NodeID,
		"transactionID", req.TransactionID)
	return ConfigurationResponse{
		NodeID:        req.NodeID,
		TransactionID: req.TransactionID,
		Configuration: string(msg),
		Success:       false,
		ErrCode:       1,
	}
}
