package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// SubscriptionRecord is the local projection of one provider subscription.
type SubscriptionRecord struct {
	ID                        uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID            string                    `gorm:"column:subscription_id;not null;uniqueIndex"`
	OwnerID                   uuid.UUID                 `gorm:"column:owner_id;type:uuid;not null;index"`
	WorkspaceID               string                    `gorm:"column:workspace_id;not null;default:''"`
	Status                    enums.SubscriptionStatus  `gorm:"column:status;type:text;not null"`
	Seats                     int                       `gorm:"column:seats;not null;default:1"`
	PriceID                   string                    `gorm:"column:price_id;not null;default:''"`
	SubscriptionItemID        string                    `gorm:"column:subscription_item_id;not null;default:''"`
	PlanTier                  enums.PlanTier            `gorm:"column:plan_tier;type:text;not null;default:''"`
	BillingIntervalUnit       enums.BillingIntervalUnit `gorm:"column:billing_interval_unit;type:text;not null;default:''"`
	BillingIntervalCount      int                       `gorm:"column:billing_interval_count;not null;default:0"`
	CurrentPeriodStart        *time.Time                `gorm:"column:current_period_start"`
	CurrentPeriodEnd          *time.Time                `gorm:"column:current_period_end"`
	TrialEnd                  *time.Time                `gorm:"column:trial_end"`
	CancelAtPeriodEnd         bool                      `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt                *time.Time                `gorm:"column:canceled_at"`
	AccessEndDate             *time.Time                `gorm:"column:access_end_date"`
	NextPaymentAttemptAt      *time.Time                `gorm:"column:next_payment_attempt_at"`
	LastAppliedEventID        string                    `gorm:"column:last_applied_event_id;not null;default:''"`
	LastAppliedEventCreatedAt int64                     `gorm:"column:last_applied_event_created_at;not null;default:0"`
	LastAppliedEventType      enums.BillingEventType    `gorm:"column:last_applied_event_type;type:text;not null;default:''"`
	BodyEventCreatedAt        int64                     `gorm:"column:body_event_created_at;not null;default:0"`
	CorrelationID             string                    `gorm:"column:correlation_id;not null;default:''"`
	CheckoutSessionID         string                    `gorm:"column:checkout_session_id;not null;default:''"`
	OriginSource              string                    `gorm:"column:origin_source;not null;default:''"`
	HasMultipleActiveFlag     bool                      `gorm:"column:has_multiple_active_flag;not null;default:false"`
	CreatedAt                 time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (SubscriptionRecord) TableName() string {
	return "subscription_records"
}

// Watermark identifies the last event applied to a record.
type Watermark struct {
	EventID        string
	EventCreatedAt int64
}

// IsZero reports whether no event has been applied yet.
func (w Watermark) IsZero() bool {
	return w.EventID == "" && w.EventCreatedAt == 0
}

// Watermark returns the record's ordering watermark.
func (r *SubscriptionRecord) Watermark() Watermark {
	if r == nil {
		return Watermark{}
	}
	return Watermark{EventID: r.LastAppliedEventID, EventCreatedAt: r.LastAppliedEventCreatedAt}
}

// IsLive reports whether the record currently grants access.
func (r *SubscriptionRecord) IsLive() bool {
	return r != nil && r.Status.IsLive()
}
