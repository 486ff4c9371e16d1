package reconcile

import (
	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// Decision is the ordering guard's verdict for one incoming event.
type Decision struct {
	Accept bool
	Reason string
}

// IsNewer reports whether incoming may be applied on top of existing's watermark.
// Rules are checked in order; the first match wins.
func IsNewer(existing *models.SubscriptionRecord, incoming events.Envelope) Decision {
	if existing == nil || existing.Watermark().IsZero() {
		return Decision{Accept: true}
	}
	mark := existing.Watermark()
	if incoming.EventID == mark.EventID {
		return Decision{Reason: ReasonDuplicateEventID}
	}
	if incoming.EventCreatedAt > 0 && mark.EventCreatedAt > 0 {
		if incoming.EventCreatedAt < mark.EventCreatedAt {
			return Decision{Reason: ReasonOutOfOrder}
		}
		if incoming.EventCreatedAt == mark.EventCreatedAt && incoming.EventID != "" && mark.EventID != "" {
			if incoming.EventID > mark.EventID {
				return Decision{Accept: true}
			}
			return Decision{Reason: ReasonOutOfOrderSameTimestamp}
		}
	}
	return Decision{Accept: true}
}

// FillsBody reports whether an event the guard rejected may still fill in the subscription body.
// CheckoutCompleted moves the watermark without carrying seats, price or item, so a Created or
// Updated stamped before it is merged as long as it is newer than the body already stored.
func FillsBody(existing *models.SubscriptionRecord, incoming events.Envelope, d Decision) bool {
	if d.Accept || existing == nil || d.Reason == ReasonDuplicateEventID {
		return false
	}
	if existing.LastAppliedEventType != enums.BillingEventCheckoutCompleted {
		return false
	}
	switch incoming.EventType {
	case enums.BillingEventSubscriptionCreated, enums.BillingEventSubscriptionUpdated:
		return incoming.EventCreatedAt > existing.BodyEventCreatedAt
	}
	return false
}
