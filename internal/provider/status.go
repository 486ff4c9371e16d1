package provider

import (
	"strings"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// MapStripeStatus folds Stripe's subscription statuses into the local lifecycle.
func MapStripeStatus(raw string) (enums.SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trialing":
		return enums.SubscriptionStatusTrialing, true
	case "active":
		return enums.SubscriptionStatusActive, true
	case "past_due", "unpaid", "incomplete", "paused":
		return enums.SubscriptionStatusPastDue, true
	case "canceled", "incomplete_expired":
		return enums.SubscriptionStatusCanceled, true
	default:
		return "", false
	}
}

// MapSquareStatus folds Square's subscription statuses into the local lifecycle.
func MapSquareStatus(raw string) (enums.SubscriptionStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return enums.SubscriptionStatusTrialing, true
	case "ACTIVE":
		return enums.SubscriptionStatusActive, true
	case "PAUSED":
		return enums.SubscriptionStatusPastDue, true
	case "CANCELED", "DEACTIVATED":
		return enums.SubscriptionStatusCanceled, true
	default:
		return "", false
	}
}

// MapIntervalUnit normalizes provider cadence names.
func MapIntervalUnit(raw string) enums.BillingIntervalUnit {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "day", "daily":
		return enums.BillingIntervalDay
	case "week", "weekly":
		return enums.BillingIntervalWeek
	case "month", "monthly":
		return enums.BillingIntervalMonth
	case "year", "yearly", "annual":
		return enums.BillingIntervalYear
	default:
		return ""
	}
}
