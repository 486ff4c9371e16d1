package enums

import "fmt"

// OutboxAggregateType identifies the aggregate an outbox row belongs to.
type OutboxAggregateType string

const (
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregateOwner        OutboxAggregateType = "owner"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSubscription,
	AggregateOwner,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names an audit event published through the outbox.
type OutboxEventType string

const (
	EventSubscriptionAnomalyDetected OutboxEventType = "subscription_anomaly_detected"
	EventSubscriptionCancelScheduled OutboxEventType = "subscription_cancel_scheduled"
	EventSubscriptionSeatsChanged    OutboxEventType = "subscription_seats_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSubscriptionAnomalyDetected,
	EventSubscriptionCancelScheduled,
	EventSubscriptionSeatsChanged,
}

// IsValid reports whether the value is a known outbox event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
