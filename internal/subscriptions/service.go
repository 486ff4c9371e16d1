package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

// Service exposes read access to an owner's subscription records.
type Service struct {
	repo Repository
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, errors.New("subscription repository required")
	}
	return &Service{repo: repo}, nil
}

// OwnerSubscriptions is the read model returned to owners and operators.
type OwnerSubscriptions struct {
	OwnerID         uuid.UUID    `json:"owner_id"`
	LiveCount       int          `json:"live_count"`
	HasMultipleLive bool         `json:"has_multiple_live"`
	Subscriptions   []RecordView `json:"subscriptions"`
}

// ListForOwner returns every record of the owner. Anomaly flags never block reads.
func (s *Service) ListForOwner(ctx context.Context, ownerID uuid.UUID) (*OwnerSubscriptions, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	records, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}
	live := 0
	views := make([]RecordView, 0, len(records))
	for i := range records {
		if records[i].IsLive() {
			live++
		}
		views = append(views, NewRecordView(records[i]))
	}
	return &OwnerSubscriptions{
		OwnerID:         ownerID,
		LiveCount:       live,
		HasMultipleLive: live > 1,
		Subscriptions:   views,
	}, nil
}
