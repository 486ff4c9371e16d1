package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/pkg/enums"
	"github.com/angelmondragon/subsync/pkg/outbox"
)

type contextKey string

const (
	ctxActorID contextKey = "actor_id"
	ctxRole    contextKey = "actor_role"
	ctxOwnerID contextKey = "owner_id"
)

func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// OwnerIDFromContext returns the owner bound to an owner token, or uuid.Nil for operators.
func OwnerIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxOwnerID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithActor injects the authenticated actor into the context.
func WithActor(ctx context.Context, actorID, role string, ownerID *uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	ctx = context.WithValue(ctx, ctxRole, role)
	if ownerID != nil {
		ctx = context.WithValue(ctx, ctxOwnerID, *ownerID)
	}
	return ctx
}

// ActorRef describes the authenticated caller for audit events.
func ActorRef(ctx context.Context) *outbox.ActorRef {
	id := ActorIDFromContext(ctx)
	if id == "" {
		return nil
	}
	role := RoleFromContext(ctx)
	kind := outbox.ActorKindOwner
	if role == string(enums.ActorRoleOperator) {
		kind = outbox.ActorKindOperator
	}
	return &outbox.ActorRef{ID: id, Kind: kind, Role: role}
}
