// Package store persists one row per task invocation so operators can audit
// past measurements
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/types"
)

// History records and lists measurement history entries
type History interface {
	Store(entry types.HistoryEntry) error
	Recent(limit int) ([]types.HistoryEntry, error)
	Cleanup(before time.Time) (int64, error)
	Close() error
}

// SQLiteHistory implements History on a local sqlite database
type SQLiteHistory struct {
	db       *sql.DB
	dbPath   string
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
}

// NewSQLiteHistory opens or creates the database at dbPath
func NewSQLiteHistory(dbPath string) (*SQLiteHistory, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	h := &SQLiteHistory{
		db:       db,
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	if err := h.prepareStatements(); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	klog.V(2).InfoS("Opened measurement history", "path", dbPath)
	return h, nil
}

func (h *SQLiteHistory) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS measurement_history (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		model TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		carbon_footprint_kg REAL NOT NULL,
		energy_consumption_wh REAL NOT NULL,
		carbon_intensity REAL NOT NULL,
		backend_energy_kwh REAL,
		grid_intensity REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON measurement_history(timestamp);
	CREATE INDEX IF NOT EXISTS idx_history_outcome ON measurement_history(outcome);
	`

	_, err := h.db.Exec(schema)
	return err
}

func (h *SQLiteHistory) prepareStatements() error {
	statements := map[string]string{
		"insert": `
			INSERT INTO measurement_history (
				id, timestamp, model, outcome, reason, carbon_footprint_kg,
				energy_consumption_wh, carbon_intensity, backend_energy_kwh, grid_intensity
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
		"select_recent": `
			SELECT id, timestamp, model, outcome, reason, carbon_footprint_kg,
				   energy_consumption_wh, carbon_intensity, backend_energy_kwh, grid_intensity
			FROM measurement_history
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ?
		`,
		"cleanup": `
			DELETE FROM measurement_history
			WHERE timestamp < ?
		`,
	}

	for name, query := range statements {
		stmt, err := h.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		h.prepared[name] = stmt
	}
	return nil
}

// Store saves one entry. Timestamps are stored in UTC so that they compare
// correctly as text.
func (h *SQLiteHistory) Store(entry types.HistoryEntry) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var backendEnergy sql.NullFloat64
	if entry.BackendEnergyKwh != nil {
		backendEnergy = sql.NullFloat64{Float64: *entry.BackendEnergyKwh, Valid: true}
	}

	_, err := h.prepared["insert"].Exec(
		entry.ID,
		entry.Timestamp.UTC(),
		entry.Model,
		entry.Outcome,
		entry.Reason,
		entry.CarbonFootprintKg,
		entry.EnergyConsumptionWh,
		entry.CarbonIntensityGPerKwh,
		backendEnergy,
		entry.GridIntensity,
	)
	if err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}

	klog.V(3).InfoS("Stored measurement history entry",
		"id", entry.ID,
		"model", entry.Model,
		"outcome", entry.Outcome)
	return nil
}

// Recent returns up to limit entries, newest first
func (h *SQLiteHistory) Recent(limit int) ([]types.HistoryEntry, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if limit <= 0 {
		return nil, nil
	}

	rows, err := h.prepared["select_recent"].Query(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []types.HistoryEntry
	for rows.Next() {
		var entry types.HistoryEntry
		var reason sql.NullString
		var backendEnergy sql.NullFloat64

		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.Model,
			&entry.Outcome,
			&reason,
			&entry.CarbonFootprintKg,
			&entry.EnergyConsumptionWh,
			&entry.CarbonIntensityGPerKwh,
			&backendEnergy,
			&entry.GridIntensity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		entry.Reason = reason.String
		if backendEnergy.Valid {
			v := backendEnergy.Float64
			entry.BackendEnergyKwh = &v
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than before and returns how many were removed
func (h *SQLiteHistory) Cleanup(before time.Time) (int64, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	result, err := h.prepared["cleanup"].Exec(before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up history: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed history rows: %w", err)
	}

	klog.V(2).InfoS("Cleaned up measurement history", "before", before, "removed", removed)
	return removed, nil
}

// Close releases prepared statements and the database
func (h *SQLiteHistory) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, stmt := range h.prepared {
		stmt.Close()
	}
	h.prepared = map[string]*sql.Stmt{}
	return h.db.Close()
}
