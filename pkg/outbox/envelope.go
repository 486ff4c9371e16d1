package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Role string `json:"role,omitempty"`
}

const (
	ActorKindSystem   = "system"
	ActorKindOperator = "operator"
	ActorKindOwner    = "owner"
)

// SystemActor is used for events produced by webhooks and cron jobs.
func SystemActor(component string) *ActorRef {
	return &ActorRef{ID: component, Kind: ActorKindSystem}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
