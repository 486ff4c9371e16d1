package seats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/outbox"
	"github.com/angelmondragon/subsync/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Records           subscriptions.Repository
	Provider          provider.BillingProvider
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Tiers             Tiers
	Logger            *logger.Logger
	Clock             func() time.Time
}

// Service changes seat counts, provider first.
type Service struct {
	records  subscriptions.Repository
	provider provider.BillingProvider
	txRunner txRunner
	outbox   outboxEmitter
	tiers    Tiers
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Records == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repository required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing provider required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Tiers.prices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "seat tiers required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		records:  params.Records,
		provider: params.Provider,
		txRunner: params.TransactionRunner,
		outbox:   params.Outbox,
		tiers:    params.Tiers,
		logg:     params.Logger,
		now:      now,
	}, nil
}

type SetSeatsInput struct {
	OwnerID        uuid.UUID
	Seats          int
	SubscriptionID string
	Actor          *outbox.ActorRef
	// RequestKey is the caller's Idempotency-Key. Retries with the same key reuse the provider
	// idempotency key; without one every call gets a fresh key.
	RequestKey string
}

type SetSeatsResult struct {
	SubscriptionID  string          `json:"subscription_id"`
	PreviousSeats   int             `json:"previous_seats"`
	NewSeats        int             `json:"new_seats"`
	Plan            enums.PlanTier  `json:"plan"`
	NewMonthlyCost  decimal.Decimal `json:"new_monthly_cost"`
	ProrationAmount decimal.Decimal `json:"proration_amount"`
}

// Candidate describes one live record when the target subscription is ambiguous.
type Candidate struct {
	SubscriptionID    string                   `json:"subscription_id"`
	WorkspaceID       string                   `json:"workspace_id"`
	PriceID           string                   `json:"price_id"`
	Status            enums.SubscriptionStatus `json:"status"`
	Seats             int                      `json:"seats"`
	HasMultipleActive bool                     `json:"has_multiple_active_flag"`
}

// SetSeats updates the seat quantity at the provider and then mirrors it locally. A provider
// failure leaves local state untouched.
func (s *Service) SetSeats(ctx context.Context, input SetSeatsInput) (*SetSeatsResult, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	if input.Seats < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seats must be at least 1")
	}

	record, err := s.resolveTarget(ctx, input)
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithOwnerID(ctx, input.OwnerID.String())
		ctx = s.logg.WithSubscriptionID(ctx, record.SubscriptionID)
	}

	plan := PlanForSeats(input.Seats)
	newCost := s.tiers.MonthlyCost(input.Seats)
	result := &SetSeatsResult{
		SubscriptionID:  record.SubscriptionID,
		PreviousSeats:   record.Seats,
		NewSeats:        input.Seats,
		Plan:            plan,
		NewMonthlyCost:  newCost,
		ProrationAmount: decimal.Zero,
	}
	if record.Seats == input.Seats {
		return result, nil
	}
	result.ProrationAmount = Proration(s.tiers.MonthlyCost(record.Seats), newCost, record.CurrentPeriodStart, record.CurrentPeriodEnd, s.now())

	if err := s.provider.UpdateSeatQuantity(ctx, provider.SeatQuantityUpdate{
		SubscriptionID:     record.SubscriptionID,
		SubscriptionItemID: record.SubscriptionItemID,
		Quantity:           input.Seats,
		IdempotencyKey:     providerIdempotencyKey(record.SubscriptionID, input),
	}); err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update seat quantity")
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.records.WithTx(tx).UpdateFields(ctx, record.SubscriptionID, subscriptions.Fields{
			"seats":     input.Seats,
			"plan_tier": plan,
		}); err != nil {
			return err
		}
		actor := input.Actor
		if actor == nil {
			actor = outbox.SystemActor("seats")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionSeatsChanged,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   record.SubscriptionID,
			Actor:         actor,
			Data: payloads.SeatsChangedEvent{
				OwnerID:         record.OwnerID,
				SubscriptionID:  record.SubscriptionID,
				PreviousSeats:   record.Seats,
				NewSeats:        input.Seats,
				Plan:            plan,
				NewMonthlyCost:  newCost,
				ProrationAmount: result.ProrationAmount,
			},
		})
	})
	if err != nil {
		if s.logg != nil {
			s.logg.Error(ctx, "seat change applied at provider but local write failed", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seat change pending local sync").
			WithDetails(map[string]any{
				"subscription_id":  record.SubscriptionID,
				"provider_applied": true,
			})
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"previous_seats": record.Seats,
			"new_seats":      input.Seats,
		}), "seat count changed")
	}
	return result, nil
}

// providerIdempotencyKey is unique per request, never per seat transition: the provider caches
// keys for a day, so 5->8, 8->5, 5->8 must not collide.
func providerIdempotencyKey(subscriptionID string, input SetSeatsInput) string {
	if input.RequestKey == "" {
		return fmt.Sprintf("seats:%s:%d:%s", subscriptionID, input.Seats, uuid.NewString())
	}
	actor := ""
	if input.Actor != nil {
		actor = input.Actor.ID
	}
	sum := sha256.Sum256([]byte(actor + "\x00" + input.RequestKey))
	return fmt.Sprintf("seats:%s:%d:%s", subscriptionID, input.Seats, hex.EncodeToString(sum[:16]))
}

func (s *Service) resolveTarget(ctx context.Context, input SetSeatsInput) (*models.SubscriptionRecord, error) {
	if input.SubscriptionID != "" {
		record, err := s.records.FindByKey(ctx, input.SubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription record")
		}
		if record == nil || record.OwnerID != input.OwnerID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if !record.IsLive() {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not live").
				WithDetails(map[string]any{"status": record.Status})
		}
		return record, nil
	}

	live, err := s.records.FindLiveByOwner(ctx, input.OwnerID, "")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load live subscriptions")
	}
	switch len(live) {
	case 0:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "owner has no live subscription")
	case 1:
		return &live[0], nil
	}

	candidates := make([]Candidate, 0, len(live))
	for _, r := range live {
		candidates = append(candidates, Candidate{
			SubscriptionID:    r.SubscriptionID,
			WorkspaceID:       r.WorkspaceID,
			PriceID:           r.PriceID,
			Status:            r.Status,
			Seats:             r.Seats,
			HasMultipleActive: r.HasMultipleActiveFlag,
		})
	}
	return nil, pkgerrors.New(pkgerrors.CodeAmbiguous, "owner has multiple live subscriptions; pass a subscription id").
		WithDetails(map[string]any{"candidates": candidates})
}
