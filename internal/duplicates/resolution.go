package duplicates

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/outbox"
	"github.com/angelmondragon/subsync/pkg/outbox/payloads"
)

// PlanEntry is one live record in a resolution plan.
type PlanEntry struct {
	SubscriptionID    string                   `json:"subscription_id"`
	WorkspaceID       string                   `json:"workspace_id"`
	PriceID           string                   `json:"price_id"`
	Status            enums.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd  *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
}

// Plan is a dry-run of a manual duplicate resolution.
type Plan struct {
	OwnerID          uuid.UUID   `json:"owner_id"`
	Keep             PlanEntry   `json:"keep"`
	CancelCandidates []PlanEntry `json:"cancel_candidates"`
}

// CancelError records one failed cancellation.
type CancelError struct {
	SubscriptionID  string `json:"subscription_id"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	ProviderApplied bool   `json:"provider_applied"`
}

// ResolutionResult summarizes an applied plan. Candidates that were already scheduled for
// cancellation are listed in AlreadyScheduled and not counted in CanceledCount.
type ResolutionResult struct {
	CanceledCount    int           `json:"canceled_count"`
	AlreadyScheduled []string      `json:"already_scheduled"`
	Errors           []CancelError `json:"errors"`
}

type candidateOutcome int

const (
	outcomeScheduled candidateOutcome = iota
	outcomeAlreadyScheduled
	outcomeFailed
)

// PlanResolution ranks the owner's live records and proposes which one to keep.
func (s *Service) PlanResolution(ctx context.Context, ownerID uuid.UUID) (*Plan, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	live, err := s.records.FindLiveByOwner(ctx, ownerID, "")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load live subscriptions")
	}
	if len(live) < 2 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "owner does not have duplicate live subscriptions").
			WithDetails(map[string]any{"live_count": len(live)})
	}
	RankForResolution(live)

	plan := &Plan{OwnerID: ownerID, Keep: entryFor(live[0])}
	for _, record := range live[1:] {
		plan.CancelCandidates = append(plan.CancelCandidates, entryFor(record))
	}
	return plan, nil
}

// RankForResolution sorts records best-first: latest period end, then active before trialing.
func RankForResolution(records []models.SubscriptionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		ae, be := periodEndUnix(a), periodEndUnix(b)
		if ae != be {
			return ae > be
		}
		return statusRank(a.Status) > statusRank(b.Status)
	})
}

func periodEndUnix(r models.SubscriptionRecord) int64 {
	if r.CurrentPeriodEnd == nil {
		return 0
	}
	return r.CurrentPeriodEnd.Unix()
}

func statusRank(status enums.SubscriptionStatus) int {
	switch status {
	case enums.SubscriptionStatusActive:
		return 2
	case enums.SubscriptionStatusTrialing:
		return 1
	default:
		return 0
	}
}

func entryFor(r models.SubscriptionRecord) PlanEntry {
	return PlanEntry{
		SubscriptionID:    r.SubscriptionID,
		WorkspaceID:       r.WorkspaceID,
		PriceID:           r.PriceID,
		Status:            r.Status,
		CurrentPeriodEnd:  r.CurrentPeriodEnd,
		CancelAtPeriodEnd: r.CancelAtPeriodEnd,
	}
}

// ApplyResolution schedules a soft cancel for every candidate. Each candidate is handled
// independently; one failure never stops the rest.
func (s *Service) ApplyResolution(ctx context.Context, plan Plan, actor *outbox.ActorRef) (*ResolutionResult, error) {
	if plan.OwnerID == uuid.Nil || plan.Keep.SubscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan must name an owner and a record to keep")
	}
	if actor == nil {
		actor = outbox.SystemActor("duplicate-resolution")
	}

	result := &ResolutionResult{AlreadyScheduled: []string{}, Errors: []CancelError{}}
	var combined error
	for _, candidate := range plan.CancelCandidates {
		if candidate.SubscriptionID == plan.Keep.SubscriptionID {
			continue
		}
		outcome, cancelErr, err := s.cancelCandidate(ctx, plan, candidate.SubscriptionID, actor)
		if cancelErr != nil {
			result.Errors = append(result.Errors, *cancelErr)
			combined = multierr.Append(combined, err)
		}
		switch {
		case outcome == outcomeAlreadyScheduled:
			result.AlreadyScheduled = append(result.AlreadyScheduled, candidate.SubscriptionID)
		case outcome == outcomeScheduled, cancelErr != nil && cancelErr.ProviderApplied:
			result.CanceledCount++
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"owner_id":       plan.OwnerID.String(),
			"keep":           plan.Keep.SubscriptionID,
			"canceled_count": result.CanceledCount,
			"already_count":  len(result.AlreadyScheduled),
			"error_count":    len(result.Errors),
		})
		if combined != nil {
			s.logg.Error(logCtx, "duplicate resolution finished with errors", combined)
		} else {
			s.logg.Info(logCtx, "duplicate resolution applied")
		}
	}
	return result, nil
}

// cancelCandidate leaves a record that is already scheduled for cancellation untouched: no
// provider call, no canceled_at rewrite, no second audit event.
func (s *Service) cancelCandidate(ctx context.Context, plan Plan, subscriptionID string, actor *outbox.ActorRef) (candidateOutcome, *CancelError, error) {
	record, err := s.records.FindByKey(ctx, subscriptionID)
	if err != nil {
		return cancelError(subscriptionID, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription"), false)
	}
	if record == nil || record.OwnerID != plan.OwnerID {
		return cancelError(subscriptionID, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found for owner"), false)
	}
	if !record.IsLive() {
		return cancelError(subscriptionID, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is no longer live"), false)
	}
	if record.CancelAtPeriodEnd {
		return outcomeAlreadyScheduled, nil, nil
	}

	if err := s.provider.ScheduleCancelAtPeriodEnd(ctx, subscriptionID); err != nil {
		wrapped := pkgerrors.As(err)
		if wrapped == nil {
			wrapped = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule cancel")
		}
		return cancelError(subscriptionID, wrapped, false)
	}

	now := time.Now().UTC()
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.records.WithTx(tx).UpdateFields(ctx, subscriptionID, subscriptions.Fields{
			"cancel_at_period_end": true,
			"canceled_at":          now,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCancelScheduled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   subscriptionID,
			Actor:         actor,
			Data: payloads.CancelScheduledEvent{
				OwnerID:            plan.OwnerID,
				SubscriptionID:     subscriptionID,
				Reason:             payloads.CancelReasonManualResolution,
				CurrentPeriodEnd:   record.CurrentPeriodEnd,
				KeepSubscriptionID: plan.Keep.SubscriptionID,
				ScheduledAt:        now,
			},
		})
	})
	if err != nil {
		return cancelError(subscriptionID, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record scheduled cancel"), true)
	}
	return outcomeScheduled, nil, nil
}

func cancelError(subscriptionID string, err *pkgerrors.Error, providerApplied bool) (candidateOutcome, *CancelError, error) {
	return outcomeFailed, &CancelError{
		SubscriptionID:  subscriptionID,
		Code:            string(err.Code()),
		Message:         err.Message(),
		ProviderApplied: providerApplied,
	}, err
}
