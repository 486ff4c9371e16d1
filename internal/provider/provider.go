package provider

import (
	"context"
	"time"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// Operation names reported to metrics and logs.
const (
	OpScheduleCancel       = "schedule_cancel_at_period_end"
	OpUpdateSeatQuantity   = "update_seat_quantity"
	OpRetrieveSubscription = "retrieve_subscription"
)

// BillingProvider is the subset of the external billing API the engine depends on.
type BillingProvider interface {
	ScheduleCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
	UpdateSeatQuantity(ctx context.Context, update SeatQuantityUpdate) error
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// SeatQuantityUpdate asks the provider to change the billed quantity.
type SeatQuantityUpdate struct {
	SubscriptionID     string
	SubscriptionItemID string
	Quantity           int
	IdempotencyKey     string
}

// Subscription is the provider's authoritative view of one subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             enums.SubscriptionStatus
	Seats              int
	PriceID            string
	SubscriptionItemID string
	IntervalUnit       enums.BillingIntervalUnit
	IntervalCount      int
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
	EndedAt            *time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}
