package subscriptions

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/api/middleware"
	"github.com/angelmondragon/subsync/api/responses"
	"github.com/angelmondragon/subsync/api/validators"
	"github.com/angelmondragon/subsync/internal/seats"
	subsvc "github.com/angelmondragon/subsync/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

type subscriptionLister interface {
	ListForOwner(ctx context.Context, ownerID uuid.UUID) (*subsvc.OwnerSubscriptions, error)
}

type seatSetter interface {
	SetSeats(ctx context.Context, input seats.SetSeatsInput) (*seats.SetSeatsResult, error)
}

type setSeatsRequest struct {
	Seats          int    `json:"seats" validate:"required,min=1"`
	SubscriptionID string `json:"subscription_id,omitempty" validate:"omitempty,max=255,external_id"`
}

// OwnerSubscriptions lists every subscription record of the owner, flagged or not.
func OwnerSubscriptions(svc subscriptionLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		ownerID, err := validators.ParseUUIDParam(r, "ownerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out, err := svc.ListForOwner(r.Context(), ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// OwnerSetSeats changes the seat count. With several live subscriptions the caller must name one;
// the 409 response lists the candidates.
func OwnerSetSeats(svc seatSetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "seat service unavailable"))
			return
		}

		ownerID, err := validators.ParseUUIDParam(r, "ownerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload setSeatsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.SetSeats(r.Context(), seats.SetSeatsInput{
			OwnerID:        ownerID,
			Seats:          payload.Seats,
			SubscriptionID: strings.TrimSpace(payload.SubscriptionID),
			Actor:          middleware.ActorRef(r.Context()),
			RequestKey:     strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
