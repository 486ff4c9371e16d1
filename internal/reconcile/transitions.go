package reconcile

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/duplicates"
	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/outbox"
	"github.com/angelmondragon/subsync/pkg/outbox/payloads"
)

// applyPayment handles PaymentSucceeded and PaymentFailed. Neither ever creates a record.
func (e *Engine) applyPayment(ctx context.Context, env events.Envelope) (Result, error) {
	owner, err := e.lookupOwner(ctx, env.CustomerID)
	if err != nil {
		return Result{}, err
	}
	if owner == nil {
		return skipped(ReasonCustomerNotFound, env.SubscriptionID), nil
	}
	if !env.HasSubscriptionID() && e.logg != nil {
		e.logg.Warn(e.logg.WithOwnerID(ctx, owner.OwnerID.String()), "payment event has no subscription id; falling back to owner record")
	}

	return e.withRetry(ctx, env.SubscriptionID, func() (Result, error) {
		record, skip, err := e.paymentTarget(ctx, env, owner)
		if err != nil {
			return Result{}, err
		}
		if record == nil {
			return skip, nil
		}
		if record.Status.IsTerminal() {
			return skipped(ReasonTerminalState, record.SubscriptionID), nil
		}
		if d := IsNewer(record, env); !d.Accept {
			return skipped(d.Reason, record.SubscriptionID), nil
		}

		now := e.now().UTC()
		patch := newPatch(env)
		if env.EventType == enums.BillingEventPaymentSucceeded {
			patch.setStatus(enums.SubscriptionStatusActive)
			periodEnd := env.Time(events.KeyCurrentPeriodEnd)
			if periodEnd == nil {
				fallback := now.Add(e.defaultPeriod)
				periodEnd = &fallback
			}
			patch.CurrentPeriodEnd = periodEnd
			patch.CurrentPeriodStart = env.Time(events.KeyCurrentPeriodStart)
			patch.ClearNextPaymentAttempt = true
		} else {
			patch.setStatus(enums.SubscriptionStatusPastDue)
			patch.NextPaymentAttemptAt = env.Time(events.KeyNextPaymentAttempt)
		}

		if err := e.conditionalUpdate(ctx, record, patch); err != nil {
			return Result{}, internalOrConflict(err, "update subscription from payment")
		}
		return applied(record.SubscriptionID), nil
	})
}

// paymentTarget resolves the record a payment event applies to. Without a subscription id the
// owner's single non-canceled record is used; anything else is skipped.
func (e *Engine) paymentTarget(ctx context.Context, env events.Envelope, owner *models.BillingCustomer) (*models.SubscriptionRecord, Result, error) {
	if env.HasSubscriptionID() {
		record, err := e.findRecord(ctx, env.SubscriptionID)
		if err != nil {
			return nil, Result{}, err
		}
		if record == nil {
			return nil, skipped(ReasonRecordNotFound, env.SubscriptionID), nil
		}
		return record, Result{}, nil
	}

	records, err := e.records.ListByOwner(ctx, owner.OwnerID)
	if err != nil {
		return nil, Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list owner subscriptions")
	}
	var candidates []models.SubscriptionRecord
	for _, r := range records {
		if !r.Status.IsTerminal() {
			candidates = append(candidates, r)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, skipped(ReasonRecordNotFound, ""), nil
	case 1:
		return &candidates[0], Result{}, nil
	default:
		return nil, skipped(ReasonAmbiguousOwnerFallback, ""), nil
	}
}

// applyCreating handles SubscriptionCreated and CheckoutCompleted, the only events allowed to
// insert a record. Both route through the duplicate detector.
func (e *Engine) applyCreating(ctx context.Context, env events.Envelope) (Result, error) {
	if !env.HasSubscriptionID() {
		return skipped(ReasonMissingSubscriptionID, ""), nil
	}
	owner, err := e.lookupOwner(ctx, env.CustomerID)
	if err != nil {
		return Result{}, err
	}
	prov := env.Provenance()

	// the provider cancel is issued at most once per Apply, even when the write is retried
	var scheduled string
	return e.withRetry(ctx, env.SubscriptionID, func() (Result, error) {
		existing, err := e.findRecord(ctx, env.SubscriptionID)
		if err != nil {
			return Result{}, err
		}
		if existing != nil && existing.Status.IsTerminal() {
			return skipped(ReasonTerminalState, env.SubscriptionID), nil
		}
		d := IsNewer(existing, env)
		fillOnly := FillsBody(existing, env, d)
		if !d.Accept && !fillOnly {
			return skipped(d.Reason, env.SubscriptionID), nil
		}

		record := existing
		if record == nil {
			if owner == nil {
				return skipped(ReasonCustomerNotFound, env.SubscriptionID), nil
			}
			record = &models.SubscriptionRecord{
				SubscriptionID: env.SubscriptionID,
				OwnerID:        owner.OwnerID,
				WorkspaceID:    firstNonEmpty(prov.WorkspaceID, owner.WorkspaceID),
				Status:         enums.SubscriptionStatusActive,
				Seats:          1,
			}
		}

		now := e.now().UTC()
		var patch *recordPatch
		switch {
		case fillOnly:
			patch = bodyOnlyPatch(existing, env)
		case env.EventType == enums.BillingEventCheckoutCompleted:
			patch = newPatch(env)
			patch.fromPayload(env)
			patch.fromProvenance(prov)
			patch.setStatus(enums.SubscriptionStatusActive)
		default:
			patch = newPatch(env)
			patch.fromPayload(env)
			patch.fromProvenance(prov)
			patch.markBody(env)
			if patch.Status != nil && patch.Status.IsTerminal() {
				patch.terminate(env, now)
			}
		}

		priceID := record.PriceID
		if patch.PriceID != nil {
			priceID = *patch.PriceID
		}
		eval, err := e.detector.Evaluate(ctx, duplicates.EvaluateInput{
			OwnerID:        record.OwnerID,
			SubscriptionID: env.SubscriptionID,
			WorkspaceID:    record.WorkspaceID,
			PriceID:        priceID,
			Provenance:     prov,
		})
		if err != nil {
			return Result{}, err
		}
		patch.MultipleActive = eval.HasMultipleActive

		dup := eval.DuplicateOf
		if dup != nil && scheduled != dup.SubscriptionID {
			if err := e.provider.ScheduleCancelAtPeriodEnd(ctx, dup.SubscriptionID); err != nil {
				if typed := pkgerrors.As(err); typed != nil {
					return Result{}, typed
				}
				return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule cancel of duplicate subscription")
			}
			scheduled = dup.SubscriptionID
		}

		err = e.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			repo := e.records.WithTx(tx)
			if existing == nil {
				patch.applyTo(record)
				if err := repo.Insert(ctx, record); err != nil {
					return err
				}
			} else if err := repo.ConditionalUpdate(ctx, record.SubscriptionID, existing.Watermark(), patch.fields()); err != nil {
				return err
			}

			if dup != nil {
				return e.markDuplicate(ctx, tx, env, record, dup, now)
			}
			if eval.HasMultipleActive && (existing == nil || !existing.HasMultipleActiveFlag) {
				return e.recordAnomaly(ctx, tx, env, record, eval)
			}
			return nil
		})
		if err != nil {
			return Result{}, internalOrConflict(err, "persist subscription record")
		}
		return applied(env.SubscriptionID), nil
	})
}

func (e *Engine) markDuplicate(ctx context.Context, tx *gorm.DB, env events.Envelope, record, dup *models.SubscriptionRecord, now time.Time) error {
	if err := e.records.WithTx(tx).UpdateFields(ctx, dup.SubscriptionID, subscriptions.Fields{
		"cancel_at_period_end": true,
		"canceled_at":          now,
	}); err != nil {
		return err
	}
	if e.logg != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"owner_id":     record.OwnerID.String(),
			"duplicate_of": dup.SubscriptionID,
		})
		e.logg.Warn(logCtx, "proven duplicate subscription scheduled for cancellation")
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionCancelScheduled,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   dup.SubscriptionID,
		Actor:         outbox.SystemActor(engineActor),
		Data: payloads.CancelScheduledEvent{
			OwnerID:          record.OwnerID,
			SubscriptionID:   dup.SubscriptionID,
			ReplacedBy:       record.SubscriptionID,
			Reason:           payloads.CancelReasonProvenDuplicate,
			CurrentPeriodEnd: dup.CurrentPeriodEnd,
			SourceEventID:    env.EventID,
			ScheduledAt:      now,
		},
	})
}

func (e *Engine) recordAnomaly(ctx context.Context, tx *gorm.DB, env events.Envelope, record *models.SubscriptionRecord, eval duplicates.Evaluation) error {
	e.metrics.IncAnomaly("engine")
	if e.logg != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"owner_id":           record.OwnerID.String(),
			"live_subscriptions": eval.OtherIDs(),
			"failed_conditions":  eval.FailedConditions,
		})
		e.logg.Warn(logCtx, "owner has multiple live subscriptions; left for manual resolution")
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionAnomalyDetected,
		AggregateType: enums.AggregateOwner,
		AggregateID:   record.OwnerID.String(),
		Actor:         outbox.SystemActor(engineActor),
		Data: payloads.AnomalyDetectedEvent{
			OwnerID:          record.OwnerID,
			SubscriptionID:   record.SubscriptionID,
			LiveSubscription: eval.OtherIDs(),
			FailedConditions: eval.FailedConditions,
			Source:           "engine",
			SourceEventID:    env.EventID,
		},
	})
}

// applyUpdated mirrors provider fields onto an existing record. It never creates one.
func (e *Engine) applyUpdated(ctx context.Context, env events.Envelope) (Result, error) {
	if !env.HasSubscriptionID() {
		return skipped(ReasonMissingSubscriptionID, ""), nil
	}
	return e.withRetry(ctx, env.SubscriptionID, func() (Result, error) {
		record, err := e.findRecord(ctx, env.SubscriptionID)
		if err != nil {
			return Result{}, err
		}
		if record == nil {
			return skipped(ReasonRecordNotFound, env.SubscriptionID), nil
		}
		if record.Status.IsTerminal() {
			return skipped(ReasonTerminalState, env.SubscriptionID), nil
		}
		d := IsNewer(record, env)
		if FillsBody(record, env, d) {
			if err := e.conditionalUpdate(ctx, record, bodyOnlyPatch(record, env)); err != nil {
				return Result{}, internalOrConflict(err, "fill subscription body")
			}
			return applied(env.SubscriptionID), nil
		}
		if !d.Accept {
			return skipped(d.Reason, env.SubscriptionID), nil
		}

		patch := newPatch(env)
		patch.fromPayload(env)
		patch.fromProvenance(env.Provenance())
		patch.markBody(env)
		if patch.Status != nil && patch.Status.IsTerminal() {
			patch.terminate(env, e.now().UTC())
		}
		if err := e.conditionalUpdate(ctx, record, patch); err != nil {
			return Result{}, internalOrConflict(err, "update subscription record")
		}
		return applied(env.SubscriptionID), nil
	})
}

// applyDeleted is the terminal transition. Once canceled, terminal fields are never rewritten.
func (e *Engine) applyDeleted(ctx context.Context, env events.Envelope) (Result, error) {
	if !env.HasSubscriptionID() {
		return skipped(ReasonMissingSubscriptionID, ""), nil
	}
	return e.withRetry(ctx, env.SubscriptionID, func() (Result, error) {
		record, err := e.findRecord(ctx, env.SubscriptionID)
		if err != nil {
			return Result{}, err
		}
		if record == nil {
			return skipped(ReasonRecordNotFound, env.SubscriptionID), nil
		}
		if record.Status.IsTerminal() {
			return skipped(ReasonAlreadyCanceled, env.SubscriptionID), nil
		}
		if env.EventID == record.LastAppliedEventID {
			return skipped(ReasonDuplicateEventID, env.SubscriptionID), nil
		}

		// terminal wins over earlier-stamped state; the watermark timestamp never moves back
		patch := newPatch(env)
		if env.EventCreatedAt < record.LastAppliedEventCreatedAt {
			patch.Watermark.EventCreatedAt = record.LastAppliedEventCreatedAt
		}
		patch.terminate(env, e.now().UTC())
		if err := e.conditionalUpdate(ctx, record, patch); err != nil {
			return Result{}, internalOrConflict(err, "cancel subscription record")
		}
		return applied(env.SubscriptionID), nil
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
