package provider

import (
	"context"
	"time"

	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
)

type timeoutProvider struct {
	next    BillingProvider
	timeout time.Duration
}

// WithTimeout bounds every provider call by timeout. Non-positive timeouts disable the bound.
func WithTimeout(next BillingProvider, timeout time.Duration) BillingProvider {
	if next == nil || timeout <= 0 {
		return next
	}
	return &timeoutProvider{next: next, timeout: timeout}
}

func (p *timeoutProvider) ScheduleCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.next.ScheduleCancelAtPeriodEnd(ctx, subscriptionID)
}

func (p *timeoutProvider) UpdateSeatQuantity(ctx context.Context, update SeatQuantityUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.next.UpdateSeatQuantity(ctx, update)
}

func (p *timeoutProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.next.RetrieveSubscription(ctx, subscriptionID)
}

type instrumentedProvider struct {
	next    BillingProvider
	metrics *metrics.ReconcileMetrics
	logg    *logger.Logger
}

// Instrument counts every provider call and logs failures.
func Instrument(next BillingProvider, m *metrics.ReconcileMetrics, logg *logger.Logger) BillingProvider {
	if next == nil {
		return nil
	}
	return &instrumentedProvider{next: next, metrics: m, logg: logg}
}

func (p *instrumentedProvider) ScheduleCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	err := p.next.ScheduleCancelAtPeriodEnd(ctx, subscriptionID)
	p.observe(ctx, OpScheduleCancel, subscriptionID, err)
	return err
}

func (p *instrumentedProvider) UpdateSeatQuantity(ctx context.Context, update SeatQuantityUpdate) error {
	err := p.next.UpdateSeatQuantity(ctx, update)
	p.observe(ctx, OpUpdateSeatQuantity, update.SubscriptionID, err)
	return err
}

func (p *instrumentedProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := p.next.RetrieveSubscription(ctx, subscriptionID)
	p.observe(ctx, OpRetrieveSubscription, subscriptionID, err)
	return sub, err
}

func (p *instrumentedProvider) observe(ctx context.Context, op, subscriptionID string, err error) {
	p.metrics.ObserveProviderCall(op, err)
	if err == nil || p.logg == nil {
		return
	}
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"provider_op":     op,
		"subscription_id": subscriptionID,
	})
	p.logg.Error(logCtx, "billing provider call failed", err)
}
