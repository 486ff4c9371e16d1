package owners

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

// LinkCustomerInput maps a provider customer id to an owner.
type LinkCustomerInput struct {
	Provider           string
	ExternalCustomerID string
	OwnerID            uuid.UUID
	WorkspaceID        string
}

// Service manages billing customer mappings.
type Service struct {
	repo Repository
}

// NewService builds the owner mapping service.
func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "owner repository required")
	}
	return &Service{repo: repo}, nil
}

// LinkCustomer upserts the mapping and returns the stored row.
func (s *Service) LinkCustomer(ctx context.Context, input LinkCustomerInput) (*models.BillingCustomer, error) {
	customerID := strings.TrimSpace(input.ExternalCustomerID)
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external customer id is required")
	}
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	if provider == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider is required")
	}

	customer := &models.BillingCustomer{
		Provider:           provider,
		ExternalCustomerID: customerID,
		OwnerID:            input.OwnerID,
		WorkspaceID:        strings.TrimSpace(input.WorkspaceID),
	}
	if err := s.repo.Upsert(ctx, customer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save billing customer")
	}
	stored, err := s.repo.FindByExternalCustomerID(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing customer")
	}
	if stored == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing customer missing after save")
	}
	return stored, nil
}

// ListForOwner returns every provider customer mapped to the owner.
func (s *Service) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.BillingCustomer, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	customers, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list billing customers")
	}
	if customers == nil {
		customers = []models.BillingCustomer{}
	}
	return customers, nil
}
