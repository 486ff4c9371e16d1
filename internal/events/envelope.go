package events

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

// Well-known payload keys populated by the provider normalizers.
const (
	KeySeats                = "seats"
	KeyPriceID              = "price_id"
	KeySubscriptionItemID   = "subscription_item_id"
	KeyStatus               = "status"
	KeyBillingIntervalUnit  = "billing_interval_unit"
	KeyBillingIntervalCount = "billing_interval_count"
	KeyCurrentPeriodStart   = "current_period_start"
	KeyCurrentPeriodEnd     = "current_period_end"
	KeyTrialEnd             = "trial_end"
	KeyCancelAtPeriodEnd    = "cancel_at_period_end"
	KeyEndedAt              = "ended_at"
	KeyNextPaymentAttempt   = "next_payment_attempt"
	KeyCheckoutSessionID    = "checkout_session_id"
	KeyMetadata             = "metadata"
)

// Metadata keys carried under payload.metadata.
const (
	MetaSource            = "source"
	MetaCorrelationID     = "correlation_id"
	MetaCheckoutSessionID = "checkout_session_id"
	MetaWorkspaceID       = "workspace_id"
)

// Envelope is one normalized inbound billing event.
type Envelope struct {
	EventID        string                 `json:"event_id"`
	EventCreatedAt int64                  `json:"event_created_at"`
	EventType      enums.BillingEventType `json:"event_type"`
	CustomerID     string                 `json:"customer_id"`
	SubscriptionID string                 `json:"subscription_id,omitempty"`
	Payload        map[string]any         `json:"payload,omitempty"`
}

// Validate rejects envelopes that must never reach the engine.
func (e Envelope) Validate() error {
	var problems []string
	if strings.TrimSpace(e.EventID) == "" {
		problems = append(problems, "event_id is required")
	}
	if e.EventType == "" {
		problems = append(problems, "event_type is required")
	} else if !e.EventType.IsValid() {
		problems = append(problems, fmt.Sprintf("event_type %q is not supported", e.EventType))
	}
	if e.EventCreatedAt < 0 {
		problems = append(problems, "event_created_at must not be negative")
	}
	if len(problems) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "malformed billing event").
			WithDetails(map[string]any{"problems": problems})
	}
	return nil
}

// HasSubscriptionID reports whether the event names a subscription.
func (e Envelope) HasSubscriptionID() bool {
	return strings.TrimSpace(e.SubscriptionID) != ""
}

// String returns the payload value at key as a trimmed string, or "".
func (e Envelope) String(key string) string {
	return stringValue(e.lookup(key))
}

// Int64 returns the payload value at key as an integer.
func (e Envelope) Int64(key string) (int64, bool) {
	return int64Value(e.lookup(key))
}

// Int returns the payload value at key as an int.
func (e Envelope) Int(key string) (int, bool) {
	v, ok := e.Int64(key)
	if !ok || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, false
	}
	return int(v), true
}

// Bool returns the payload value at key as a boolean.
func (e Envelope) Bool(key string) (bool, bool) {
	switch v := e.lookup(key).(type) {
	case bool:
		return v, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// Time reads a unix-seconds or RFC3339 timestamp at key.
func (e Envelope) Time(key string) *time.Time {
	raw := e.lookup(key)
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				ts = ts.UTC()
				return &ts
			}
		}
	}
	secs, ok := int64Value(raw)
	if !ok || secs <= 0 {
		return nil
	}
	ts := time.Unix(secs, 0).UTC()
	return &ts
}

// Metadata returns payload.metadata flattened to strings.
func (e Envelope) Metadata() map[string]string {
	out := map[string]string{}
	switch raw := e.lookup(KeyMetadata).(type) {
	case map[string]string:
		for k, v := range raw {
			out[k] = strings.TrimSpace(v)
		}
	case map[string]any:
		for k, v := range raw {
			if s := stringValue(v); s != "" {
				out[k] = s
			}
		}
	}
	return out
}

// Provenance extracts the checkout provenance used by the causality gate.
func (e Envelope) Provenance() Provenance {
	meta := e.Metadata()
	p := Provenance{
		Source:            meta[MetaSource],
		CorrelationID:     firstNonEmpty(meta[MetaCorrelationID], meta["correlationId"]),
		CheckoutSessionID: firstNonEmpty(meta[MetaCheckoutSessionID], meta["checkoutSessionId"], e.String(KeyCheckoutSessionID)),
		WorkspaceID:       meta[MetaWorkspaceID],
	}
	return p
}

// Provenance ties a subscription to the checkout action that produced it.
type Provenance struct {
	Source            string
	CorrelationID     string
	CheckoutSessionID string
	WorkspaceID       string
}

func (e Envelope) lookup(key string) any {
	if e.Payload == nil {
		return nil
	}
	return e.Payload[key]
}

func stringValue(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int, int32, int64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

func int64Value(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
