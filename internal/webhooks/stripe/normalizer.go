package stripewebhook

import (
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

var eventTypes = map[stripe.EventType]enums.BillingEventType{
	stripe.EventTypeCustomerSubscriptionCreated: enums.BillingEventSubscriptionCreated,
	stripe.EventTypeCustomerSubscriptionUpdated: enums.BillingEventSubscriptionUpdated,
	stripe.EventTypeCustomerSubscriptionDeleted: enums.BillingEventSubscriptionDeleted,
	stripe.EventTypeInvoicePaid:                 enums.BillingEventPaymentSucceeded,
	stripe.EventTypeInvoicePaymentSucceeded:     enums.BillingEventPaymentSucceeded,
	stripe.EventTypeInvoicePaymentFailed:        enums.BillingEventPaymentFailed,
	stripe.EventTypeCheckoutSessionCompleted:    enums.BillingEventCheckoutCompleted,
}

// Normalize converts a verified Stripe event into an envelope. ok is false for event types the
// engine does not consume.
func Normalize(event *stripe.Event) (env events.Envelope, ok bool, err error) {
	if event == nil || event.Data == nil {
		return events.Envelope{}, false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	eventType, known := eventTypes[event.Type]
	if !known {
		return events.Envelope{}, false, nil
	}

	env = events.Envelope{
		EventID:        event.ID,
		EventCreatedAt: event.Created,
		EventType:      eventType,
	}
	switch eventType {
	case enums.BillingEventPaymentSucceeded, enums.BillingEventPaymentFailed:
		err = fillFromInvoice(&env, event.Data.Raw)
	case enums.BillingEventCheckoutCompleted:
		ok, err = fillFromCheckoutSession(&env, event.Data.Raw)
		if !ok || err != nil {
			return events.Envelope{}, false, err
		}
	default:
		err = fillFromSubscription(&env, event.Data.Raw)
	}
	if err != nil {
		return events.Envelope{}, false, err
	}
	return env, true, nil
}

func fillFromSubscription(env *events.Envelope, raw json.RawMessage) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(raw, &stripeSub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	sub, err := provider.FromStripeSubscription(&stripeSub)
	if err != nil {
		return err
	}
	env.SubscriptionID = sub.ID
	env.CustomerID = sub.CustomerID
	env.Payload = sub.Payload()
	return nil
}

// invoiceObject covers both the legacy top-level subscription field and the parent block
// newer API versions use.
type invoiceObject struct {
	ID                 string          `json:"id"`
	Customer           json.RawMessage `json:"customer"`
	Subscription       json.RawMessage `json:"subscription"`
	NextPaymentAttempt int64           `json:"next_payment_attempt"`
	Parent             *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines *struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func fillFromInvoice(env *events.Envelope, raw json.RawMessage) error {
	var invoice invoiceObject
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
	}
	env.CustomerID = expandableID(invoice.Customer)
	env.SubscriptionID = expandableID(invoice.Subscription)

	payload := map[string]any{}
	if invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
		details := invoice.Parent.SubscriptionDetails
		if env.SubscriptionID == "" {
			env.SubscriptionID = expandableID(details.Subscription)
		}
		if len(details.Metadata) > 0 {
			payload[events.KeyMetadata] = details.Metadata
		}
	}
	if invoice.Lines != nil {
		var start, end int64
		for _, line := range invoice.Lines.Data {
			if line.Period.End > end {
				start, end = line.Period.Start, line.Period.End
			}
		}
		if end > 0 {
			payload[events.KeyCurrentPeriodStart] = start
			payload[events.KeyCurrentPeriodEnd] = end
		}
	}
	if invoice.NextPaymentAttempt > 0 {
		payload[events.KeyNextPaymentAttempt] = invoice.NextPaymentAttempt
	}
	env.Payload = payload
	return nil
}

func fillFromCheckoutSession(env *events.Envelope, raw json.RawMessage) (bool, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription {
		return false, nil
	}
	if session.Customer != nil {
		env.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		env.SubscriptionID = session.Subscription.ID
	}

	meta := map[string]string{}
	for k, v := range session.Metadata {
		meta[k] = v
	}
	if _, set := meta[events.MetaCheckoutSessionID]; !set && session.ID != "" {
		meta[events.MetaCheckoutSessionID] = session.ID
	}
	env.Payload = map[string]any{
		events.KeyCheckoutSessionID: session.ID,
		events.KeyMetadata:          meta,
	}
	return true, nil
}

// expandableID reads a Stripe reference that is either a bare id or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}
