package enums

import "fmt"

// BillingEventType is the normalized kind of an inbound billing provider event.
type BillingEventType string

const (
	BillingEventPaymentSucceeded    BillingEventType = "PaymentSucceeded"
	BillingEventPaymentFailed       BillingEventType = "PaymentFailed"
	BillingEventSubscriptionCreated BillingEventType = "SubscriptionCreated"
	BillingEventSubscriptionUpdated BillingEventType = "SubscriptionUpdated"
	BillingEventSubscriptionDeleted BillingEventType = "SubscriptionDeleted"
	BillingEventCheckoutCompleted   BillingEventType = "CheckoutCompleted"
)

var validBillingEventTypes = []BillingEventType{
	BillingEventPaymentSucceeded,
	BillingEventPaymentFailed,
	BillingEventSubscriptionCreated,
	BillingEventSubscriptionUpdated,
	BillingEventSubscriptionDeleted,
	BillingEventCheckoutCompleted,
}

// String implements fmt.Stringer.
func (e BillingEventType) String() string {
	return string(e)
}

// IsValid reports whether the value is a known BillingEventType.
func (e BillingEventType) IsValid() bool {
	for _, candidate := range validBillingEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// CreatesRecord reports whether the event may insert a new subscription record.
func (e BillingEventType) CreatesRecord() bool {
	return e == BillingEventSubscriptionCreated || e == BillingEventCheckoutCompleted
}

// ParseBillingEventType converts raw input into a BillingEventType.
func ParseBillingEventType(value string) (BillingEventType, error) {
	for _, candidate := range validBillingEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing event type %q", value)
}
