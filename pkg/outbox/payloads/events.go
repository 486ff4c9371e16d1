package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// AnomalyDetectedEvent is emitted when an owner holds more than one live subscription
// and nothing was resolved automatically.
type AnomalyDetectedEvent struct {
	OwnerID          uuid.UUID `json:"owner_id"`
	SubscriptionID   string    `json:"subscription_id"`
	LiveSubscription []string  `json:"live_subscription_ids"`
	FailedConditions []string  `json:"failed_conditions,omitempty"`
	Source           string    `json:"source"`
	SourceEventID    string    `json:"source_event_id,omitempty"`
}

// CancelScheduledEvent records one soft cancellation issued to the provider.
type CancelScheduledEvent struct {
	OwnerID            uuid.UUID  `json:"owner_id"`
	SubscriptionID     string     `json:"subscription_id"`
	ReplacedBy         string     `json:"replaced_by,omitempty"`
	Reason             string     `json:"reason"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	SourceEventID      string     `json:"source_event_id,omitempty"`
	KeepSubscriptionID string     `json:"keep_subscription_id,omitempty"`
	ScheduledAt        time.Time  `json:"scheduled_at"`
}

// SeatsChangedEvent records a confirmed seat quantity change.
type SeatsChangedEvent struct {
	OwnerID         uuid.UUID       `json:"owner_id"`
	SubscriptionID  string          `json:"subscription_id"`
	PreviousSeats   int             `json:"previous_seats"`
	NewSeats        int             `json:"new_seats"`
	Plan            enums.PlanTier  `json:"plan"`
	NewMonthlyCost  decimal.Decimal `json:"new_monthly_cost"`
	ProrationAmount decimal.Decimal `json:"proration_amount"`
}

const (
	CancelReasonProvenDuplicate  = "proven_duplicate"
	CancelReasonManualResolution = "manual_resolution"
)
