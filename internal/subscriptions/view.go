package subscriptions

import (
	"time"

	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// RecordView is the API shape of a subscription record.
type RecordView struct {
	SubscriptionID        string                    `json:"subscription_id"`
	WorkspaceID           string                    `json:"workspace_id,omitempty"`
	Status                enums.SubscriptionStatus  `json:"status"`
	Live                  bool                      `json:"live"`
	Seats                 int                       `json:"seats"`
	PlanTier              enums.PlanTier            `json:"plan_tier,omitempty"`
	PriceID               string                    `json:"price_id,omitempty"`
	BillingIntervalUnit   enums.BillingIntervalUnit `json:"billing_interval_unit,omitempty"`
	BillingIntervalCount  int                       `json:"billing_interval_count,omitempty"`
	CurrentPeriodStart    *time.Time                `json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time                `json:"current_period_end,omitempty"`
	TrialEnd              *time.Time                `json:"trial_end,omitempty"`
	CancelAtPeriodEnd     bool                      `json:"cancel_at_period_end"`
	CanceledAt            *time.Time                `json:"canceled_at,omitempty"`
	AccessEndDate         *time.Time                `json:"access_end_date,omitempty"`
	HasMultipleActiveFlag bool                      `json:"has_multiple_active_flag"`
	UpdatedAt             time.Time                 `json:"updated_at"`
}

func NewRecordView(r models.SubscriptionRecord) RecordView {
	return RecordView{
		SubscriptionID:        r.SubscriptionID,
		WorkspaceID:           r.WorkspaceID,
		Status:                r.Status,
		Live:                  r.IsLive(),
		Seats:                 r.Seats,
		PlanTier:              r.PlanTier,
		PriceID:               r.PriceID,
		BillingIntervalUnit:   r.BillingIntervalUnit,
		BillingIntervalCount:  r.BillingIntervalCount,
		CurrentPeriodStart:    r.CurrentPeriodStart,
		CurrentPeriodEnd:      r.CurrentPeriodEnd,
		TrialEnd:              r.TrialEnd,
		CancelAtPeriodEnd:     r.CancelAtPeriodEnd,
		CanceledAt:            r.CanceledAt,
		AccessEndDate:         r.AccessEndDate,
		HasMultipleActiveFlag: r.HasMultipleActiveFlag,
		UpdatedAt:             r.UpdatedAt,
	}
}
