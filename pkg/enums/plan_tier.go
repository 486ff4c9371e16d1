package enums

import "fmt"

// PlanTier is the seat-derived pricing tier.
type PlanTier string

const (
	PlanTierStarter  PlanTier = "starter"
	PlanTierTeam     PlanTier = "team"
	PlanTierBusiness PlanTier = "business"
)

var validPlanTiers = []PlanTier{
	PlanTierStarter,
	PlanTierTeam,
	PlanTierBusiness,
}

// String implements fmt.Stringer.
func (p PlanTier) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PlanTier.
func (p PlanTier) IsValid() bool {
	for _, candidate := range validPlanTiers {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanTier converts raw input into a PlanTier.
func ParsePlanTier(value string) (PlanTier, error) {
	for _, candidate := range validPlanTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan tier %q", value)
}

// Seat thresholds for the tier boundaries.
const (
	StarterMaxSeats = 5
	TeamMaxSeats    = 15
)

// PlanTierForSeats maps a seat count to its tier.
func PlanTierForSeats(seats int) PlanTier {
	switch {
	case seats <= StarterMaxSeats:
		return PlanTierStarter
	case seats <= TeamMaxSeats:
		return PlanTierTeam
	default:
		return PlanTierBusiness
	}
}
