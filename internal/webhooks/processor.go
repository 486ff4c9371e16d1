package webhooks

import (
	"context"

	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/reconcile"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

type guard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type applier interface {
	Apply(ctx context.Context, env events.Envelope) (reconcile.Result, error)
}

type ProcessorParams struct {
	Guard  guard
	Engine applier
	Logger *logger.Logger
}

// Processor feeds normalized provider events into the reconciliation engine.
type Processor struct {
	guard  guard
	engine applier
	logg   *logger.Logger
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconcile engine required")
	}
	return &Processor{guard: params.Guard, engine: params.Engine, logg: params.Logger}, nil
}

// Process applies env once per event id. Failed applications release the dedup key so the
// provider's redelivery is not swallowed.
func (p *Processor) Process(ctx context.Context, env events.Envelope) (reconcile.Result, error) {
	seen, err := p.guard.CheckAndMark(ctx, env.EventID)
	if err != nil {
		return reconcile.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	if seen {
		if p.logg != nil {
			p.logg.Info(p.logg.WithEvent(ctx, env.EventID, string(env.EventType)), "webhook redelivery dropped")
		}
		return reconcile.Result{
			Status:         reconcile.StatusSkipped,
			Reason:         reconcile.ReasonDuplicateEventID,
			SubscriptionID: env.SubscriptionID,
		}, nil
	}

	result, err := p.engine.Apply(ctx, env)
	if err != nil {
		if releaseErr := p.guard.Release(ctx, env.EventID); releaseErr != nil && p.logg != nil {
			p.logg.Error(ctx, "failed to release webhook idempotency key", releaseErr)
		}
		return reconcile.Result{}, err
	}
	return result, nil
}
