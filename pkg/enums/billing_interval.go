package enums

import "fmt"

// BillingIntervalUnit defines the cadence unit of a subscription.
type BillingIntervalUnit string

const (
	BillingIntervalDay   BillingIntervalUnit = "day"
	BillingIntervalWeek  BillingIntervalUnit = "week"
	BillingIntervalMonth BillingIntervalUnit = "month"
	BillingIntervalYear  BillingIntervalUnit = "year"
)

var validBillingIntervalUnits = []BillingIntervalUnit{
	BillingIntervalDay,
	BillingIntervalWeek,
	BillingIntervalMonth,
	BillingIntervalYear,
}

// String implements fmt.Stringer.
func (b BillingIntervalUnit) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingIntervalUnit.
func (b BillingIntervalUnit) IsValid() bool {
	for _, candidate := range validBillingIntervalUnits {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingIntervalUnit converts raw input into a BillingIntervalUnit.
func ParseBillingIntervalUnit(value string) (BillingIntervalUnit, error) {
	for _, candidate := range validBillingIntervalUnits {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing interval unit %q", value)
}
