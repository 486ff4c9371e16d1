package provider

import (
	"time"

	"github.com/angelmondragon/subsync/internal/events"
)

// Payload renders the subscription as a normalized event payload.
func (s *Subscription) Payload() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	payload := map[string]any{
		events.KeyStatus:            string(s.Status),
		events.KeyCancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Seats > 0 {
		payload[events.KeySeats] = int64(s.Seats)
	}
	if s.PriceID != "" {
		payload[events.KeyPriceID] = s.PriceID
	}
	if s.SubscriptionItemID != "" {
		payload[events.KeySubscriptionItemID] = s.SubscriptionItemID
	}
	if s.IntervalUnit != "" {
		payload[events.KeyBillingIntervalUnit] = string(s.IntervalUnit)
	}
	if s.IntervalCount > 0 {
		payload[events.KeyBillingIntervalCount] = int64(s.IntervalCount)
	}
	putUnix(payload, events.KeyCurrentPeriodStart, s.CurrentPeriodStart)
	putUnix(payload, events.KeyCurrentPeriodEnd, s.CurrentPeriodEnd)
	putUnix(payload, events.KeyTrialEnd, s.TrialEnd)
	putUnix(payload, events.KeyEndedAt, s.EndedAt)
	if len(s.Metadata) > 0 {
		meta := make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			meta[k] = v
		}
		payload[events.KeyMetadata] = meta
	}
	return payload
}

func putUnix(payload map[string]any, key string, ts *time.Time) {
	if ts != nil && !ts.IsZero() {
		payload[key] = ts.Unix()
	}
}
