package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/api/middleware"
	"github.com/angelmondragon/subsync/api/responses"
	"github.com/angelmondragon/subsync/api/validators"
	"github.com/angelmondragon/subsync/internal/duplicates"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/outbox"
)

type duplicateResolver interface {
	PlanResolution(ctx context.Context, ownerID uuid.UUID) (*duplicates.Plan, error)
	ApplyResolution(ctx context.Context, plan duplicates.Plan, actor *outbox.ActorRef) (*duplicates.ResolutionResult, error)
}

type applyResolutionRequest struct {
	KeepSubscriptionID string `json:"keep_subscription_id" validate:"required,max=255,external_id"`
}

// DuplicatePlan returns the dry-run resolution for an owner. Nothing is changed.
func DuplicatePlan(svc duplicateResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "duplicate service unavailable"))
			return
		}
		ownerID, err := validators.ParseUUIDParam(r, "ownerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := svc.PlanResolution(r.Context(), ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

// DuplicateApply recomputes the plan and applies it only if it still keeps the record the
// operator reviewed.
func DuplicateApply(svc duplicateResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "duplicate service unavailable"))
			return
		}
		ownerID, err := validators.ParseUUIDParam(r, "ownerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload applyResolutionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := svc.PlanResolution(r.Context(), ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if plan.Keep.SubscriptionID != strings.TrimSpace(payload.KeepSubscriptionID) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "resolution plan changed").
				WithDetails(map[string]any{"plan": plan}))
			return
		}

		result, err := svc.ApplyResolution(r.Context(), *plan, middleware.ActorRef(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
