// Package grid resolves the carbon intensity of the electricity grid a node
// draws from, preferring live Electricity Maps data and falling back to a
// configured constant.
package grid

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/api"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/config"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/metrics"
)

// Intensity sources
const (
	SourceAPI     = "api"
	SourceDefault = "default"
)

// IntensityFetcher is implemented by api.Client
type IntensityFetcher interface {
	GetCarbonIntensity(ctx context.Context, zone string) (*api.ElectricityData, error)
}

// Intensity is a resolved grid carbon intensity
type Intensity struct {
	GramsPerKWh float64
	Zone        string
	Source      string
}

// Resolver returns the grid intensity used to convert energy into CO2 mass
type Resolver struct {
	fetcher  IntensityFetcher
	zone     string
	fallback float64
}

// NewResolver picks the zone from cfg and keeps fetcher for live lookups.
// A nil fetcher always yields the configured default.
func NewResolver(cfg config.CarbonConfig, fetcher IntensityFetcher) *Resolver {
	return &Resolver{
		fetcher:  fetcher,
		zone:     ResolveZone(cfg),
		fallback: cfg.DefaultIntensity,
	}
}

// ResolveZone returns the explicit zone, else the zone mapped from the cloud
// region, else the empty string
func ResolveZone(cfg config.CarbonConfig) string {
	if cfg.Zone != "" {
		return cfg.Zone
	}
	if cfg.CloudProvider == "" || cfg.CloudRegion == "" {
		return ""
	}

	mapper := NewZoneMapper()
	for _, o := range cfg.RegionOverrides {
		mapper.Override(o.Provider, o.Region, o.ElectricityMapsZone)
	}
	zone, ok := mapper.Zone(cfg.CloudProvider, cfg.CloudRegion)
	if !ok {
		klog.InfoS("No electricity zone known for cloud region, using default intensity",
			"provider", cfg.CloudProvider,
			"region", cfg.CloudRegion)
	}
	return zone
}

// Zone returns the zone this resolver looks up
func (r *Resolver) Zone() string {
	return r.zone
}

// Resolve never fails: API problems degrade to the configured default
func (r *Resolver) Resolve(ctx context.Context) Intensity {
	if r.fetcher != nil && r.zone != "" {
		data, err := r.fetcher.GetCarbonIntensity(ctx, r.zone)
		if err == nil {
			metrics.GridIntensityLookups.WithLabelValues(r.zone, SourceAPI).Inc()
			return Intensity{GramsPerKWh: data.CarbonIntensity, Zone: r.zone, Source: SourceAPI}
		}
		klog.V(2).InfoS("Falling back to default grid intensity",
			"zone", r.zone,
			"default", r.fallback,
			"error", err)
	}

	metrics.GridIntensityLookups.WithLabelValues(r.zone, SourceDefault).Inc()
	return Intensity{GramsPerKWh: r.fallback, Zone: r.zone, Source: SourceDefault}
}
