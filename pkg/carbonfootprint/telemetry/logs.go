package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"k8s.io/utils/ptr"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

const logSuffix = ".log"

// Consumption is the energy and CO2 figure of a log entry
type Consumption struct {
	EnergyKWh  *float64 `json:"energy (kWh),omitempty"`
	CO2eqGrams float64  `json:"co2eq (g)"`
}

// LogEntry is one line of a tracker log file. Pred extrapolates the epochs
// seen so far to the whole task; Actual is the raw measured total.
type LogEntry struct {
	Epoch           int          `json:"epoch,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
	DurationSeconds float64      `json:"duration (s),omitempty"`
	Actual          *Consumption `json:"actual,omitempty"`
	Pred            *Consumption `json:"pred,omitempty"`
}

// PrepareLogDirectory creates dir and removes log files left by an earlier
// measurement so they can never be read back as this one's result
func PrepareLogDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list log directory: %w", err)
	}
	for _, f := range files {
		if f.Type().IsRegular() && strings.HasSuffix(f.Name(), logSuffix) {
			if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
				return fmt.Errorf("failed to remove stale log %s: %w", f.Name(), err)
			}
		}
	}
	return nil
}

// ParseLogs reads every log file in dir, oldest file first, and returns the
// entries in the order they were written
func ParseLogs(dir string) ([]LogEntry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}

	type logFile struct {
		name    string
		modTime time.Time
	}
	var logs []logFile
	for _, f := range files {
		if !f.Type().IsRegular() || !strings.HasSuffix(f.Name(), logSuffix) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
		}
		logs = append(logs, logFile{name: f.Name(), modTime: info.ModTime()})
	}
	sort.Slice(logs, func(i, j int) bool {
		if !logs[i].modTime.Equal(logs[j].modTime) {
			return logs[i].modTime.Before(logs[j].modTime)
		}
		return logs[i].name < logs[j].name
	})

	var entries []LogEntry
	for _, l := range logs {
		fileEntries, err := parseLogFile(filepath.Join(dir, l.name))
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

func parseLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, fmt.Errorf("failed to parse %s:%d: %w", filepath.Base(path), line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

// LatestSample scans entries most-recent-first and returns the first one with
// a positive carbon mass. Zero entries mean "not recorded" and are skipped.
func LatestSample(entries []LogEntry) (types.RawSample, error) {
	for i := len(entries) - 1; i >= 0; i-- {
		pred := entries[i].Pred
		if pred == nil || !(pred.CO2eqGrams > 0) {
			continue
		}
		sample := types.RawSample{CarbonMassGrams: pred.CO2eqGrams}
		if pred.EnergyKWh != nil {
			sample.EnergyKwh = ptr.To(*pred.EnergyKWh)
		}
		return sample, nil
	}
	return types.RawSample{}, ErrNoEntry
}
