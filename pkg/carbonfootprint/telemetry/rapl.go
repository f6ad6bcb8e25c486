package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
)

// raplZone is one top-level powercap package domain
type raplZone struct {
	name     string
	path     string
	maxRange uint64 // microjoules before the counter wraps
	last     uint64
}

// RAPLMeter sums the energy_uj counters of the top-level intel-rapl zones
// under a powercap sysfs root, accounting for wraparound
type RAPLMeter struct {
	mu          sync.Mutex
	zones       []*raplZone
	accumulated uint64 // microjoules since the meter was opened
}

// NewRAPLMeter opens every readable top-level zone. No readable zone means the
// platform is unsupported; unprivileged access to energy_uj is the usual cause.
func NewRAPLMeter(root string) (*RAPLMeter, error) {
	if root == "" {
		root = common.DefaultRAPLPath
	}

	dirs, err := filepath.Glob(filepath.Join(root, "intel-rapl:*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list RAPL zones: %w", err)
	}

	meter := &RAPLMeter{}
	for _, dir := range dirs {
		// Subzones (intel-rapl:0:0) are already counted in their package
		if strings.Count(filepath.Base(dir), ":") != 1 {
			continue
		}

		energy, err := readMicrojoules(filepath.Join(dir, "energy_uj"))
		if err != nil {
			klog.V(2).InfoS("Skipping unreadable RAPL zone", "zone", dir, "error", err)
			continue
		}
		maxRange, err := readMicrojoules(filepath.Join(dir, "max_energy_range_uj"))
		if err != nil {
			klog.V(2).InfoS("RAPL zone has no max_energy_range_uj, wraparound not handled", "zone", dir)
			maxRange = 0
		}

		name := filepath.Base(dir)
		if raw, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
			name = strings.TrimSpace(string(raw))
		}
		meter.zones = append(meter.zones, &raplZone{name: name, path: dir, maxRange: maxRange, last: energy})
	}

	if len(meter.zones) == 0 {
		return nil, fmt.Errorf("%w: no readable RAPL zone under %s", ErrUnsupported, root)
	}

	klog.V(2).InfoS("Opened RAPL energy meter", "root", root, "zones", len(meter.zones))
	return meter, nil
}

func (m *RAPLMeter) Name() string {
	return common.BackendRAPL
}

// Joules returns the energy consumed since the meter was opened
func (m *RAPLMeter) Joules(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, z := range m.zones {
		current, err := readMicrojoules(filepath.Join(z.path, "energy_uj"))
		if err != nil {
			return 0, fmt.Errorf("failed to read RAPL zone %s: %w", z.name, err)
		}
		m.accumulated += counterDelta(z.last, current, z.maxRange)
		z.last = current
	}

	return float64(m.accumulated) / 1e6, nil
}

// counterDelta assumes at most one wrap between two readings
func counterDelta(last, current, maxRange uint64) uint64 {
	if current >= last {
		return current - last
	}
	if maxRange == 0 || last > maxRange {
		return 0
	}
	return maxRange - last + current
}

func readMicrojoules(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return value, nil
}
