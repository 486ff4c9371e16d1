package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/reconcile"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

type reconcileLister interface {
	ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.SubscriptionRecord, error)
}

type subscriptionFetcher interface {
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*provider.Subscription, error)
}

type envelopeApplier interface {
	Apply(ctx context.Context, env events.Envelope) (reconcile.Result, error)
}

// SubscriptionReconcileJobParams configures the provider pull that repairs missed webhooks.
type SubscriptionReconcileJobParams struct {
	Logger   *logger.Logger
	Records  reconcileLister
	Provider subscriptionFetcher
	Engine   envelopeApplier
	Limit    int
	Lookback time.Duration
	Now      func() time.Time
}

func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("billing provider required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reconcile engine required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	return &subscriptionReconcileJob{
		logg:     params.Logger,
		records:  params.Records,
		provider: params.Provider,
		engine:   params.Engine,
		now:      now,
		limit:    limit,
		lookback: lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg     *logger.Logger
	records  reconcileLister
	provider subscriptionFetcher
	engine   envelopeApplier
	now      func() time.Time
	limit    int
	lookback time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

// Run pulls each candidate from the provider and feeds it through the engine as a synthesized
// event, so drift repair obeys the same watermark rules as webhooks.
func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	records, err := j.records.ListForReconciliation(ctx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var (
		errs    error
		applied int
		skipped int
	)
	for i := range records {
		result, err := j.reconcileOne(ctx, &records[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", records[i].SubscriptionID, err))
			continue
		}
		if result.Status == reconcile.StatusApplied {
			applied++
		} else {
			skipped++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(records),
		"applied":    applied,
		"skipped":    skipped,
		"failed":     len(multierr.Errors(errs)),
	}), "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileOne(ctx context.Context, record *models.SubscriptionRecord) (reconcile.Result, error) {
	logCtx := j.logg.WithSubscriptionID(ctx, record.SubscriptionID)
	sub, err := j.provider.RetrieveSubscription(logCtx, record.SubscriptionID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			j.logg.Warn(logCtx, "subscription missing at provider; leaving record untouched")
			return reconcile.Result{Status: reconcile.StatusSkipped, Reason: reconcile.ReasonRecordNotFound}, nil
		}
		return reconcile.Result{}, err
	}
	if sub == nil {
		return reconcile.Result{Status: reconcile.StatusSkipped, Reason: reconcile.ReasonRecordNotFound}, nil
	}
	return j.engine.Apply(logCtx, j.synthesize(record, sub))
}

func (j *subscriptionReconcileJob) synthesize(record *models.SubscriptionRecord, sub *provider.Subscription) events.Envelope {
	at := j.now().UTC().Unix()
	eventType := enums.BillingEventSubscriptionUpdated
	if sub.Status.IsTerminal() {
		eventType = enums.BillingEventSubscriptionDeleted
	}
	return events.Envelope{
		EventID:        fmt.Sprintf("reconcile:%s:%d", record.SubscriptionID, at),
		EventCreatedAt: at,
		EventType:      eventType,
		CustomerID:     sub.CustomerID,
		SubscriptionID: record.SubscriptionID,
		Payload:        sub.Payload(),
	}
}
