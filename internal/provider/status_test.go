package provider

import (
	"testing"

	"github.com/angelmondragon/subsync/pkg/enums"
)

func TestMapStripeStatus(t *testing.T) {
	cases := map[string]enums.SubscriptionStatus{
		"trialing":           enums.SubscriptionStatusTrialing,
		"active":             enums.SubscriptionStatusActive,
		"past_due":           enums.SubscriptionStatusPastDue,
		"unpaid":             enums.SubscriptionStatusPastDue,
		"incomplete":         enums.SubscriptionStatusPastDue,
		"canceled":           enums.SubscriptionStatusCanceled,
		"incomplete_expired": enums.SubscriptionStatusCanceled,
	}
	for raw, want := range cases {
		got, ok := MapStripeStatus(raw)
		if !ok || got != want {
			t.Fatalf("MapStripeStatus(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := MapStripeStatus("mystery"); ok {
		t.Fatal("expected unknown stripe status to be rejected")
	}
}

func TestMapSquareStatus(t *testing.T) {
	cases := map[string]enums.SubscriptionStatus{
		"PENDING":     enums.SubscriptionStatusTrialing,
		"active":      enums.SubscriptionStatusActive,
		"PAUSED":      enums.SubscriptionStatusPastDue,
		"CANCELED":    enums.SubscriptionStatusCanceled,
		"DEACTIVATED": enums.SubscriptionStatusCanceled,
	}
	for raw, want := range cases {
		got, ok := MapSquareStatus(raw)
		if !ok || got != want {
			t.Fatalf("MapSquareStatus(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := MapSquareStatus(""); ok {
		t.Fatal("expected empty square status to be rejected")
	}
}

func TestMapIntervalUnit(t *testing.T) {
	if MapIntervalUnit("MONTHLY") != enums.BillingIntervalMonth {
		t.Fatal("expected monthly to map to month")
	}
	if MapIntervalUnit("annual") != enums.BillingIntervalYear {
		t.Fatal("expected annual to map to year")
	}
	if MapIntervalUnit("fortnight") != "" {
		t.Fatal("expected unknown cadence to be empty")
	}
}
