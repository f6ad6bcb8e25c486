package types

import "time"

// HistoryEntry is one persisted task invocation
type HistoryEntry struct {
	ID                     string    `json:"id"`
	Timestamp              time.Time `json:"timestamp"`
	Model                  string    `json:"model"`
	Outcome                string    `json:"outcome"`
	Reason                 string    `json:"reason,omitempty"`
	CarbonFootprintKg      float64   `json:"carbon_footprint"`
	EnergyConsumptionWh    float64   `json:"energy_consumption"`
	CarbonIntensityGPerKwh float64   `json:"carbon_intensity"`
	BackendEnergyKwh       *float64  `json:"backend_energy_kwh,omitempty"`
	GridIntensity          float64   `json:"grid_intensity"`
}
