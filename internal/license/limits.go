package license

// TierFeatureSet defines the entitlements of a license tier.
type TierFeatureSet struct {
	MaxRows        int  `json:"maxRows"`
	ExportEnabled  bool `json:"exportEnabled"`
	HistoryEnabled bool `json:"historyEnabled"`
	MaxConnections int  `json:"maxConnections"`
}

// Unlimited is a sentinel value indicating no limit on a resource.
const Unlimited = -1

// tierFeatures maps each license tier to its entitlements.
var tierFeatures = map[Tier]TierFeatureSet{
	TierTrial: {
		MaxRows:        1000,
		ExportEnabled:  true,
		HistoryEnabled: true,
		MaxConnections: 3,
	},
	TierProfessional: {
		MaxRows:        Unlimited,
		ExportEnabled:  true,
		HistoryEnabled: true,
		MaxConnections: 10,
	},
	TierEnterprise: {
		MaxRows:        Unlimited,
		ExportEnabled:  true,
		HistoryEnabled: true,
		MaxConnections: Unlimited,
	},
}

// GetFeatures returns the entitlements for the given tier.
// Returns trial entitlements for unrecognized tiers.
func GetFeatures(tier Tier) TierFeatureSet {
	features, ok := tierFeatures[tier]
	if !ok {
		return tierFeatures[TierTrial]
	}
	return features
}

// IsUnlimited returns true if the given limit value represents unlimited.
func IsUnlimited(limit int) bool {
	return limit == Unlimited
}

// AllowsRows reports whether a result of n rows fits the row limit.
func (f TierFeatureSet) AllowsRows(n int) bool {
	return withinLimit(f.MaxRows, n)
}

// AllowsConnections reports whether n saved connections fit the limit.
func (f TierFeatureSet) AllowsConnections(n int) bool {
	return withinLimit(f.MaxConnections, n)
}

// ClampRows truncates a row count to the tier limit.
func (f TierFeatureSet) ClampRows(n int) int {
	if IsUnlimited(f.MaxRows) || n <= f.MaxRows {
		return n
	}
	return f.MaxRows
}

func withinLimit(limit, n int) bool {
	return IsUnlimited(limit) || n <= limit
}
