package reconcile

import (
	"time"

	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// recordPatch is the typed set of changes one transition makes. Nil fields are left untouched.
type recordPatch struct {
	Status                  *enums.SubscriptionStatus
	Seats                   *int
	PlanTier                *enums.PlanTier
	PriceID                 *string
	SubscriptionItemID      *string
	IntervalUnit            *enums.BillingIntervalUnit
	IntervalCount           *int
	CurrentPeriodStart      *time.Time
	CurrentPeriodEnd        *time.Time
	TrialEnd                *time.Time
	CancelAtPeriodEnd       *bool
	CanceledAt              *time.Time
	AccessEndDate           *time.Time
	NextPaymentAttemptAt    *time.Time
	ClearNextPaymentAttempt bool
	CorrelationID           *string
	CheckoutSessionID       *string
	OriginSource            *string
	MultipleActive          bool
	Watermark               models.Watermark
	EventType               enums.BillingEventType
	// BodyCreatedAt is set when the event carried the subscription body (seats, price, item).
	BodyCreatedAt *int64
}

func newPatch(env events.Envelope) *recordPatch {
	return &recordPatch{Watermark: watermarkOf(env), EventType: env.EventType}
}

// bodyOnlyPatch fills in the subscription body from an event stamped before the watermark. The
// watermark and status stay as the newer event left them.
func bodyOnlyPatch(existing *models.SubscriptionRecord, env events.Envelope) *recordPatch {
	p := &recordPatch{Watermark: existing.Watermark(), EventType: existing.LastAppliedEventType}
	p.fromPayload(env)
	p.fromProvenance(env.Provenance())
	p.Status = nil
	p.markBody(env)
	return p
}

func (p *recordPatch) markBody(env events.Envelope) {
	at := env.EventCreatedAt
	p.BodyCreatedAt = &at
}

func (p *recordPatch) setStatus(status enums.SubscriptionStatus) {
	p.Status = &status
}

// fromPayload copies every recognized provider field present on the envelope.
func (p *recordPatch) fromPayload(env events.Envelope) {
	if status, err := enums.ParseSubscriptionStatus(env.String(events.KeyStatus)); err == nil {
		p.Status = &status
	}
	if seats, ok := env.Int(events.KeySeats); ok && seats >= 1 {
		tier := enums.PlanTierForSeats(seats)
		p.Seats = &seats
		p.PlanTier = &tier
	}
	if v := env.String(events.KeyPriceID); v != "" {
		p.PriceID = &v
	}
	if v := env.String(events.KeySubscriptionItemID); v != "" {
		p.SubscriptionItemID = &v
	}
	if unit := provider.MapIntervalUnit(env.String(events.KeyBillingIntervalUnit)); unit != "" {
		p.IntervalUnit = &unit
	}
	if count, ok := env.Int(events.KeyBillingIntervalCount); ok && count > 0 {
		p.IntervalCount = &count
	}
	p.CurrentPeriodStart = env.Time(events.KeyCurrentPeriodStart)
	p.CurrentPeriodEnd = env.Time(events.KeyCurrentPeriodEnd)
	p.TrialEnd = env.Time(events.KeyTrialEnd)
	if v, ok := env.Bool(events.KeyCancelAtPeriodEnd); ok {
		p.CancelAtPeriodEnd = &v
	}
}

func (p *recordPatch) fromProvenance(prov events.Provenance) {
	if prov.CorrelationID != "" {
		p.CorrelationID = &prov.CorrelationID
	}
	if prov.CheckoutSessionID != "" {
		p.CheckoutSessionID = &prov.CheckoutSessionID
	}
	if prov.Source != "" {
		p.OriginSource = &prov.Source
	}
}

// terminate applies the canceled state. accessEnd falls back to ended_at, then the period end, then now.
func (p *recordPatch) terminate(env events.Envelope, now time.Time) {
	p.setStatus(enums.SubscriptionStatusCanceled)
	canceledAt := now
	p.CanceledAt = &canceledAt
	accessEnd := env.Time(events.KeyEndedAt)
	if accessEnd == nil {
		accessEnd = env.Time(events.KeyCurrentPeriodEnd)
	}
	if accessEnd == nil {
		accessEnd = &canceledAt
	}
	p.AccessEndDate = accessEnd
	off := false
	p.CancelAtPeriodEnd = &off
}

func (p *recordPatch) fields() subscriptions.Fields {
	f := subscriptions.Fields{
		"last_applied_event_id":         p.Watermark.EventID,
		"last_applied_event_created_at": p.Watermark.EventCreatedAt,
		"last_applied_event_type":       p.EventType,
	}
	if p.BodyCreatedAt != nil {
		f["body_event_created_at"] = *p.BodyCreatedAt
	}
	if p.Status != nil {
		f["status"] = *p.Status
	}
	if p.Seats != nil {
		f["seats"] = *p.Seats
	}
	if p.PlanTier != nil {
		f["plan_tier"] = *p.PlanTier
	}
	if p.PriceID != nil {
		f["price_id"] = *p.PriceID
	}
	if p.SubscriptionItemID != nil {
		f["subscription_item_id"] = *p.SubscriptionItemID
	}
	if p.IntervalUnit != nil {
		f["billing_interval_unit"] = *p.IntervalUnit
	}
	if p.IntervalCount != nil {
		f["billing_interval_count"] = *p.IntervalCount
	}
	if p.CurrentPeriodStart != nil {
		f["current_period_start"] = *p.CurrentPeriodStart
	}
	if p.CurrentPeriodEnd != nil {
		f["current_period_end"] = *p.CurrentPeriodEnd
	}
	if p.TrialEnd != nil {
		f["trial_end"] = *p.TrialEnd
	}
	if p.CancelAtPeriodEnd != nil {
		f["cancel_at_period_end"] = *p.CancelAtPeriodEnd
	}
	if p.CanceledAt != nil {
		f["canceled_at"] = *p.CanceledAt
	}
	if p.AccessEndDate != nil {
		f["access_end_date"] = *p.AccessEndDate
	}
	if p.NextPaymentAttemptAt != nil {
		f["next_payment_attempt_at"] = *p.NextPaymentAttemptAt
	} else if p.ClearNextPaymentAttempt {
		f["next_payment_attempt_at"] = nil
	}
	if p.CorrelationID != nil {
		f["correlation_id"] = *p.CorrelationID
	}
	if p.CheckoutSessionID != nil {
		f["checkout_session_id"] = *p.CheckoutSessionID
	}
	if p.OriginSource != nil {
		f["origin_source"] = *p.OriginSource
	}
	if p.MultipleActive {
		f["has_multiple_active_flag"] = true
	}
	return f
}

func (p *recordPatch) applyTo(r *models.SubscriptionRecord) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Seats != nil {
		r.Seats = *p.Seats
	}
	if p.PlanTier != nil {
		r.PlanTier = *p.PlanTier
	}
	if p.PriceID != nil {
		r.PriceID = *p.PriceID
	}
	if p.SubscriptionItemID != nil {
		r.SubscriptionItemID = *p.SubscriptionItemID
	}
	if p.IntervalUnit != nil {
		r.BillingIntervalUnit = *p.IntervalUnit
	}
	if p.IntervalCount != nil {
		r.BillingIntervalCount = *p.IntervalCount
	}
	if p.CurrentPeriodStart != nil {
		r.CurrentPeriodStart = p.CurrentPeriodStart
	}
	if p.CurrentPeriodEnd != nil {
		r.CurrentPeriodEnd = p.CurrentPeriodEnd
	}
	if p.TrialEnd != nil {
		r.TrialEnd = p.TrialEnd
	}
	if p.CancelAtPeriodEnd != nil {
		r.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.CanceledAt != nil {
		r.CanceledAt = p.CanceledAt
	}
	if p.AccessEndDate != nil {
		r.AccessEndDate = p.AccessEndDate
	}
	if p.NextPaymentAttemptAt != nil {
		r.NextPaymentAttemptAt = p.NextPaymentAttemptAt
	}
	if p.CorrelationID != nil {
		r.CorrelationID = *p.CorrelationID
	}
	if p.CheckoutSessionID != nil {
		r.CheckoutSessionID = *p.CheckoutSessionID
	}
	if p.OriginSource != nil {
		r.OriginSource = *p.OriginSource
	}
	if p.MultipleActive {
		r.HasMultipleActiveFlag = true
	}
	r.LastAppliedEventID = p.Watermark.EventID
	r.LastAppliedEventCreatedAt = p.Watermark.EventCreatedAt
	r.LastAppliedEventType = p.EventType
	if p.BodyCreatedAt != nil {
		r.BodyEventCreatedAt = *p.BodyCreatedAt
	}
}
