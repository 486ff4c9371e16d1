package reconcile

// Status tags the outcome of applying one event.
type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped"
)

// Skip reasons. A skip is an expected outcome, not an error.
const (
	ReasonDuplicateEventID        = "duplicate_event_id"
	ReasonOutOfOrder              = "out_of_order"
	ReasonOutOfOrderSameTimestamp = "out_of_order_same_timestamp"
	ReasonCustomerNotFound        = "customer_not_found"
	ReasonRecordNotFound          = "record_not_found"
	ReasonAmbiguousOwnerFallback  = "ambiguous_owner_fallback"
	ReasonMissingSubscriptionID   = "missing_subscription_id"
	ReasonAlreadyCanceled         = "already_canceled"
	ReasonTerminalState           = "terminal_state"
)

// Result is returned for every applied or skipped event.
type Result struct {
	Status         Status `json:"status"`
	Reason         string `json:"reason,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

func applied(subscriptionID string) Result {
	return Result{Status: StatusApplied, SubscriptionID: subscriptionID}
}

func skipped(reason, subscriptionID string) Result {
	return Result{Status: StatusSkipped, Reason: reason, SubscriptionID: subscriptionID}
}
