package reconcile

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/duplicates"
	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
	"github.com/angelmondragon/subsync/pkg/outbox"
)

const (
	defaultMaxAttempts = 3
	defaultPeriod      = 30 * 24 * time.Hour
	engineActor        = "reconcile-engine"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ownerLookup interface {
	FindByExternalCustomerID(ctx context.Context, customerID string) (*models.BillingCustomer, error)
}

type duplicateDetector interface {
	Evaluate(ctx context.Context, input duplicates.EvaluateInput) (duplicates.Evaluation, error)
}

// EngineParams wires the reconciliation engine.
type EngineParams struct {
	Records           subscriptions.Repository
	Owners            ownerLookup
	Detector          duplicateDetector
	Provider          provider.BillingProvider
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Metrics           *metrics.ReconcileMetrics
	Logger            *logger.Logger
	DefaultPeriod     time.Duration
	MaxAttempts       int
	Clock             func() time.Time
}

// Engine converges local subscription records to billing provider events.
type Engine struct {
	records       subscriptions.Repository
	owners        ownerLookup
	detector      duplicateDetector
	provider      provider.BillingProvider
	txRunner      txRunner
	outbox        outboxEmitter
	metrics       *metrics.ReconcileMetrics
	logg          *logger.Logger
	defaultPeriod time.Duration
	maxAttempts   int
	now           func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Records == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repository required")
	}
	if params.Owners == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "owner lookup required")
	}
	if params.Detector == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "duplicate detector required")
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
	e := &Engine{
		records:       params.Records,
		owners:        params.Owners,
		detector:      params.Detector,
		provider:      params.Provider,
		txRunner:      params.TransactionRunner,
		outbox:        params.Outbox,
		metrics:       params.Metrics,
		logg:          params.Logger,
		defaultPeriod: params.DefaultPeriod,
		maxAttempts:   params.MaxAttempts,
		now:           params.Clock,
	}
	if e.defaultPeriod <= 0 {
		e.defaultPeriod = defaultPeriod
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Apply reconciles one normalized billing event. Skips are returned as results, not errors;
// errors mean the delivery should be retried.
func (e *Engine) Apply(ctx context.Context, env events.Envelope) (Result, error) {
	if err := env.Validate(); err != nil {
		return Result{}, err
	}
	if e.logg != nil {
		ctx = e.logg.WithEvent(ctx, env.EventID, string(env.EventType))
		if env.HasSubscriptionID() {
			ctx = e.logg.WithSubscriptionID(ctx, env.SubscriptionID)
		}
	}

	var (
		result Result
		err    error
	)
	switch env.EventType {
	case enums.BillingEventPaymentSucceeded, enums.BillingEventPaymentFailed:
		result, err = e.applyPayment(ctx, env)
	case enums.BillingEventSubscriptionCreated, enums.BillingEventCheckoutCompleted:
		result, err = e.applyCreating(ctx, env)
	case enums.BillingEventSubscriptionUpdated:
		result, err = e.applyUpdated(ctx, env)
	case enums.BillingEventSubscriptionDeleted:
		result, err = e.applyDeleted(ctx, env)
	default:
		err = pkgerrors.New(pkgerrors.CodeValidation, "unsupported billing event type")
	}

	if err != nil {
		e.metrics.ObserveEvent(string(env.EventType), "error", "")
		if e.logg != nil {
			e.logg.Error(ctx, "billing event failed", err)
		}
		return Result{}, err
	}
	e.metrics.ObserveEvent(string(env.EventType), string(result.Status), result.Reason)
	if e.logg != nil {
		if result.Status == StatusSkipped {
			e.logg.Info(e.logg.WithField(ctx, "reason", result.Reason), "billing event skipped")
		} else {
			e.logg.Info(ctx, "billing event applied")
		}
	}
	return result, nil
}

// withRetry re-runs pass when a concurrent writer moved the watermark between read and write.
func (e *Engine) withRetry(ctx context.Context, subscriptionID string, pass func() (Result, error)) (Result, error) {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result, err := pass()
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, subscriptions.ErrWatermarkConflict) && !errors.Is(err, subscriptions.ErrAlreadyExists) {
			return Result{}, err
		}
		if e.logg != nil {
			e.logg.Warn(e.logg.WithField(ctx, "attempt", attempt), "subscription write lost a race; re-reading")
		}
	}
	return Result{}, pkgerrors.New(pkgerrors.CodeConflict, "subscription changed concurrently").
		WithDetails(map[string]any{"subscription_id": subscriptionID, "attempts": e.maxAttempts})
}

func (e *Engine) lookupOwner(ctx context.Context, customerID string) (*models.BillingCustomer, error) {
	owner, err := e.owners.FindByExternalCustomerID(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup owner by customer")
	}
	return owner, nil
}

func (e *Engine) findRecord(ctx context.Context, subscriptionID string) (*models.SubscriptionRecord, error) {
	record, err := e.records.FindByKey(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription record")
	}
	return record, nil
}

func (e *Engine) conditionalUpdate(ctx context.Context, record *models.SubscriptionRecord, patch *recordPatch) error {
	return e.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return e.records.WithTx(tx).ConditionalUpdate(ctx, record.SubscriptionID, record.Watermark(), patch.fields())
	})
}

func watermarkOf(env events.Envelope) models.Watermark {
	return models.Watermark{EventID: env.EventID, EventCreatedAt: env.EventCreatedAt}
}

func internalOrConflict(err error, message string) error {
	if errors.Is(err, subscriptions.ErrWatermarkConflict) || errors.Is(err, subscriptions.ErrAlreadyExists) {
		return err
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}
