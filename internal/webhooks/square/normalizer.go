package squarewebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

// SignatureHeader carries the base64 HMAC-SHA256 of notification URL + body.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

type Event struct {
	MerchantID string    `json:"merchant_id"`
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	CreatedAt  string    `json:"created_at"`
	Data       EventData `json:"data"`
}

type EventData struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Object EventObject `json:"object"`
}

type EventObject struct {
	Subscription *sq.Subscription `json:"subscription,omitempty"`
	Invoice      *Invoice         `json:"invoice,omitempty"`
}

// Invoice is the subset of a Square invoice the engine needs.
type Invoice struct {
	ID               string `json:"id"`
	SubscriptionID   string `json:"subscription_id"`
	PrimaryRecipient *struct {
		CustomerID string `json:"customer_id"`
	} `json:"primary_recipient"`
}

var eventTypes = map[string]enums.BillingEventType{
	"subscription.created":            enums.BillingEventSubscriptionCreated,
	"subscription.updated":            enums.BillingEventSubscriptionUpdated,
	"invoice.payment_made":            enums.BillingEventPaymentSucceeded,
	"invoice.scheduled_charge_failed": enums.BillingEventPaymentFailed,
}

// VerifySignature checks a Square webhook signature.
func VerifySignature(body []byte, signature, signatureKey, notificationURL string) bool {
	if signature == "" || signatureKey == "" || notificationURL == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signatureKey))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// Decode parses a raw webhook body.
func Decode(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}
	return &event, nil
}

// Normalize converts a Square event into an envelope. ok is false for event types the engine
// does not consume.
func Normalize(event *Event) (events.Envelope, bool, error) {
	if event == nil {
		return events.Envelope{}, false, pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	eventType, known := eventTypes[strings.ToLower(strings.TrimSpace(event.Type))]
	if !known {
		return events.Envelope{}, false, nil
	}

	env := events.Envelope{
		EventID:   strings.TrimSpace(event.EventID),
		EventType: eventType,
	}
	if created, err := time.Parse(time.RFC3339, strings.TrimSpace(event.CreatedAt)); err == nil {
		env.EventCreatedAt = created.Unix()
	}

	switch eventType {
	case enums.BillingEventPaymentSucceeded, enums.BillingEventPaymentFailed:
		invoice := event.Data.Object.Invoice
		if invoice == nil {
			return events.Envelope{}, false, pkgerrors.New(pkgerrors.CodeValidation, "invoice payload missing")
		}
		env.SubscriptionID = strings.TrimSpace(invoice.SubscriptionID)
		if invoice.PrimaryRecipient != nil {
			env.CustomerID = strings.TrimSpace(invoice.PrimaryRecipient.CustomerID)
		}
		env.Payload = map[string]any{}
	default:
		sub, err := provider.FromSquareSubscription(event.Data.Object.Subscription)
		if err != nil {
			return events.Envelope{}, false, err
		}
		env.SubscriptionID = sub.ID
		env.CustomerID = sub.CustomerID
		env.Payload = sub.Payload()
	}
	return env, true, nil
}
