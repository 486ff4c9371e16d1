package admin

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/api/responses"
	"github.com/angelmondragon/subsync/api/validators"
	"github.com/angelmondragon/subsync/internal/owners"
	"github.com/angelmondragon/subsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

type customerLinker interface {
	LinkCustomer(ctx context.Context, input owners.LinkCustomerInput) (*models.BillingCustomer, error)
	ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.BillingCustomer, error)
}

type linkCustomerRequest struct {
	Provider           string    `json:"provider" validate:"required,oneof=stripe square"`
	ExternalCustomerID string    `json:"external_customer_id" validate:"required,max=255,external_id"`
	OwnerID            uuid.UUID `json:"owner_id" validate:"required"`
	WorkspaceID        string    `json:"workspace_id,omitempty" validate:"omitempty,max=255"`
}

// LinkBillingCustomer maps a provider customer to an owner so its events can be attributed.
func LinkBillingCustomer(svc customerLinker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "owner service unavailable"))
			return
		}
		var payload linkCustomerRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		customer, err := svc.LinkCustomer(r.Context(), owners.LinkCustomerInput{
			Provider:           payload.Provider,
			ExternalCustomerID: validators.SanitizeString(payload.ExternalCustomerID, 255),
			OwnerID:            payload.OwnerID,
			WorkspaceID:        validators.SanitizeString(payload.WorkspaceID, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, customer)
	}
}

func OwnerBillingCustomers(svc customerLinker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "owner service unavailable"))
			return
		}
		ownerID, err := validators.ParseUUIDParam(r, "ownerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		customers, err := svc.ListForOwner(r.Context(), ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, customers)
	}
}
