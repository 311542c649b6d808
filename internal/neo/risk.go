package neo

import "strings"

// RiskTier is the coarse risk label attached to a close approach.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

const (
	highMissDistanceAU   = 0.05
	highMinDiameterKM    = 0.3
	mediumMissDistanceAU = 0.2
)

// AllRiskTiers lists tiers from least to most severe.
var AllRiskTiers = []RiskTier{RiskLow, RiskMedium, RiskHigh}

// Classify maps one close-approach event to a tier. The first matching rule wins.
func Classify(isHazardous bool, missDistanceAU, diameterMaxKM float64) RiskTier {
	switch {
	case isHazardous && missDistanceAU < highMissDistanceAU && diameterMaxKM > highMinDiameterKM:
		return RiskHigh
	case missDistanceAU < mediumMissDistanceAU:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ParseRiskTier accepts tier names case-insensitively.
func ParseRiskTier(value string) (RiskTier, bool) {
	tier := RiskTier(strings.ToUpper(strings.TrimSpace(value)))
	switch tier {
	case RiskLow, RiskMedium, RiskHigh:
		return tier, true
	default:
		return "", false
	}
}

func (t RiskTier) String() string { return string(t) }
