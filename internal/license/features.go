package license

// Feature represents a gated capability of the query tool.
type Feature string

const (
	// FeatureExport enables exporting query results.
	FeatureExport Feature = "export"
	// FeatureHistory enables the query history panel.
	FeatureHistory Feature = "history"
	// FeatureUnlimitedRows lifts the result row cap.
	FeatureUnlimitedRows Feature = "unlimited_rows"
	// FeatureUnlimitedConnections lifts the saved connection cap.
	FeatureUnlimitedConnections Feature = "unlimited_connections"
)

// AllFeatures returns all gated features.
func AllFeatures() []Feature {
	return []Feature{FeatureExport, FeatureHistory, FeatureUnlimitedRows, FeatureUnlimitedConnections}
}

// HasFeature returns true if the given tier has access to the specified feature.
func HasFeature(tier Tier, feature Feature) bool {
	return GetFeatures(tier).Has(feature)
}

// Has reports whether the entitlement set grants feature.
func (f TierFeatureSet) Has(feature Feature) bool {
	switch feature {
	case FeatureExport:
		return f.ExportEnabled
	case FeatureHistory:
		return f.HistoryEnabled
	case FeatureUnlimitedRows:
		return IsUnlimited(f.MaxRows)
	case FeatureUnlimitedConnections:
		return IsUnlimited(f.MaxConnections)
	default:
		return false
	}
}

// FeaturesForTier returns the gated features the tier grants.
func FeaturesForTier(tier Tier) []Feature {
	set := GetFeatures(tier)
	var out []Feature
	for _, f := range AllFeatures() {
		if set.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// TierOrder returns the numeric order of a tier for comparison.
func TierOrder(t Tier) int {
	switch t {
	case TierTrial:
		return 0
	case TierProfessional:
		return 1
	case TierEnterprise:
		return 2
	default:
		return -1
	}
}

// TierInfo describes a tier for display.
type TierInfo struct {
	Tier        Tier           `json:"tier"`
	DisplayName string         `json:"displayName"`
	Features    TierFeatureSet `json:"features"`
}

// GetTierInfo returns display information about a tier. Unknown tiers are
// reported as trial.
func GetTierInfo(t Tier) TierInfo {
	if !t.IsValid() {
		t = TierTrial
	}
	return TierInfo{Tier: t, DisplayName: t.DisplayName(), Features: GetFeatures(t)}
}

// GetAllTierInfo returns display information for every tier in order.
func GetAllTierInfo() []TierInfo {
	tiers := ValidTiers()
	out := make([]TierInfo, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, GetTierInfo(t))
	}
	return out
}
