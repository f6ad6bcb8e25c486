package grid

import "strings"

// Cloud providers with built-in zone tables
const (
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderAzure = "azure"
)

// defaultZones maps cloud regions to Electricity Maps zones
var defaultZones = map[string]map[string]string{
	ProviderAWS: {
		"us-east-1":      "US-PJM",
		"us-east-2":      "US-PJM",
		"us-west-1":      "US-CAL-CISO",
		"us-west-2":      "US-NW-PACW",
		"ca-central-1":   "CA-ON",
		"eu-west-1":      "IE",
		"eu-west-2":      "GB",
		"eu-west-3":      "FR",
		"eu-central-1":   "DE",
		"eu-north-1":     "SE",
		"ap-northeast-1": "JP",
		"ap-northeast-2": "KR",
		"ap-southeast-1": "SG",
		"ap-southeast-2": "AU-NSW",
		"ap-south-1":     "IN-NO",
		"sa-east-1":      "BR-CS",
	},
	ProviderGCP: {
		"us-west1":                "US-NW-PACW",
		"us-west2":                "US-CAL-CISO",
		"us-west4":                "US-SW-NEVP",
		"us-central1":             "US-MIDW-MISO",
		"us-east1":                "US-SOCO",
		"us-east4":                "US-PJM",
		"northamerica-northeast1": "CA-QC",
		"europe-north1":           "FI",
		"europe-west1":            "BE",
		"europe-west2":            "GB",
		"europe-west3":            "DE",
		"europe-west4":            "NL",
		"europe-west6":            "CH",
		"europe-west9":            "FR",
		"europe-central2":         "PL",
		"asia-east1":              "TW",
		"asia-northeast1":         "JP",
		"asia-southeast1":         "SG",
		"australia-southeast1":    "AU-NSW",
		"southamerica-east1":      "BR-CS",
	},
	ProviderAzure: {
		"eastus":             "US-PJM",
		"eastus2":            "US-PJM",
		"westus":             "US-CAL-CISO",
		"westus2":            "US-NW-PACW",
		"centralus":          "US-MIDW-MISO",
		"northeurope":        "IE",
		"westeurope":         "NL",
		"uksouth":            "GB",
		"francecentral":      "FR",
		"germanywestcentral": "DE",
		"swedencentral":      "SE",
		"japaneast":          "JP",
		"australiaeast":      "AU-NSW",
	},
}

// ZoneMapper resolves cloud regions to Electricity Maps zones
type ZoneMapper struct {
	zones map[string]map[string]string
}

// NewZoneMapper copies the built-in table so overrides stay local to the mapper
func NewZoneMapper() *ZoneMapper {
	zones := make(map[string]map[string]string, len(defaultZones))
	for provider, regions := range defaultZones {
		zones[provider] = make(map[string]string, len(regions))
		for region, zone := range regions {
			zones[provider][region] = zone
		}
	}
	return &ZoneMapper{zones: zones}
}

// Override sets or replaces a mapping
func (m *ZoneMapper) Override(provider, region, zone string) {
	provider = strings.ToLower(provider)
	if m.zones[provider] == nil {
		m.zones[provider] = make(map[string]string)
	}
	m.zones[provider][strings.ToLower(region)] = zone
}

// Zone returns the zone for a provider region
func (m *ZoneMapper) Zone(provider, region string) (string, bool) {
	zone, ok := m.zones[strings.ToLower(provider)][strings.ToLower(region)]
	return zone, ok
}
