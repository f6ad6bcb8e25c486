package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "carbon_footprint_node"
)

var (
	// MeasurementsTotal counts supervised measurements by outcome
	MeasurementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Number of supervised measurements by outcome",
		},
		[]string{"outcome"}, // "success", "timeout", "unsupported", "failure"
	)

	// MeasurementDuration measures the wall time of a supervised measurement,
	// worker spawn and teardown included
	MeasurementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "measurement_duration_seconds",
			Help:      "Wall time of supervised measurements including worker teardown",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"outcome"},
	)

	// CarbonFootprint is the footprint of the last published record
	CarbonFootprint = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_carbon_footprint_kg",
			Help:      "Carbon footprint of the last published record in kgCO2eq",
		},
	)

	// EnergyConsumption is the energy of the last published record
	EnergyConsumption = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_energy_consumption_wh",
			Help:      "Energy consumption of the last published record in Wh",
		},
	)

	// CarbonIntensity is the intensity of the last published record
	CarbonIntensity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_carbon_intensity_g_per_kwh",
			Help:      "Carbon intensity of the last published record in gCO2eq/kWh",
		},
	)

	// GridIntensityLookups counts grid intensity resolutions by source
	GridIntensityLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_intensity_lookups_total",
			Help:      "Grid carbon intensity lookups by source",
		},
		[]string{"zone", "source"}, // source: "api", "default"
	)

	// MetadataErrors counts task metadata payloads that failed to decode
	MetadataErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_errors_total",
			Help:      "Task metadata payloads that could not be decoded",
		},
	)
)

// Collectors returns every collector owned by the node
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MeasurementsTotal,
		MeasurementDuration,
		CarbonFootprint,
		EnergyConsumption,
		CarbonIntensity,
		GridIntensityLookups,
		MetadataErrors,
	}
}

func init() {
	prometheus.MustRegister(Collectors()...)
}
