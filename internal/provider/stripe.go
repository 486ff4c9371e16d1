package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"
	"github.com/stripe/stripe-go/v84/subscriptionitem"

	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	pkgstripe "github.com/angelmondragon/subsync/pkg/stripe"
)

type stripeAPI interface {
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	UpdateSubscriptionItem(ctx context.Context, id string, params *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error)
}

type stripeBackend struct{}

func (stripeBackend) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params != nil {
		params.Context = ctx
	}
	return subscription.Update(id, params)
}

func (stripeBackend) GetSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params != nil {
		params.Context = ctx
	}
	return subscription.Get(id, params)
}

func (stripeBackend) UpdateSubscriptionItem(ctx context.Context, id string, params *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error) {
	if params != nil {
		params.Context = ctx
	}
	return subscriptionitem.Update(id, params)
}

// StripeProvider talks to Stripe through the package-level stripe-go API.
type StripeProvider struct {
	api stripeAPI
}

// NewStripeProvider requires an initialized Stripe client so the key and backend are configured.
func NewStripeProvider(client *pkgstripe.Client) (*StripeProvider, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &StripeProvider{api: stripeBackend{}}, nil
}

func (p *StripeProvider) ScheduleCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	if _, err := p.api.UpdateSubscription(ctx, subscriptionID, params); err != nil {
		return mapStripeError(err, "schedule cancel")
	}
	return nil
}

func (p *StripeProvider) UpdateSeatQuantity(ctx context.Context, update SeatQuantityUpdate) error {
	if update.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	// one provider call per decision: an unknown item is not looked up here, the reconcile cron
	// fills it in from the subscription
	itemID := strings.TrimSpace(update.SubscriptionItemID)
	if itemID == "" {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription item not yet known; retry after the subscription syncs").
			WithDetails(map[string]any{"subscription_id": update.SubscriptionID})
	}
	params := &stripe.SubscriptionItemParams{
		Quantity:          stripe.Int64(int64(update.Quantity)),
		ProrationBehavior: stripe.String("create_prorations"),
	}
	if update.IdempotencyKey != "" {
		params.SetIdempotencyKey(update.IdempotencyKey)
	}
	if _, err := p.api.UpdateSubscriptionItem(ctx, itemID, params); err != nil {
		return mapStripeError(err, "update seat quantity")
	}
	return nil
}

func (p *StripeProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := p.api.GetSubscription(ctx, subscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return nil, mapStripeError(err, "retrieve subscription")
	}
	return FromStripeSubscription(sub)
}

// FromStripeSubscription converts a Stripe subscription object, from the API or a webhook body.
func FromStripeSubscription(sub *stripe.Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	status, ok := MapStripeStatus(string(sub.Status))
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("unknown stripe status %q", sub.Status))
	}
	out := &Subscription{
		ID:                sub.ID,
		Status:            status,
		TrialEnd:          unixPtr(sub.TrialEnd),
		EndedAt:           unixPtr(sub.EndedAt),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if item := firstStripeItem(sub); item != nil {
		out.SubscriptionItemID = item.ID
		out.Seats = int(item.Quantity)
		out.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Recurring != nil {
				out.IntervalUnit = MapIntervalUnit(string(item.Price.Recurring.Interval))
				out.IntervalCount = int(item.Price.Recurring.IntervalCount)
			}
		}
	}
	return out, nil
}

func firstStripeItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func mapStripeError(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := pkgerrors.CodeDependency
		switch stripeErr.HTTPStatusCode {
		case http.StatusNotFound:
			code = pkgerrors.CodeNotFound
		case http.StatusBadRequest:
			code = pkgerrors.CodeValidation
		case http.StatusConflict:
			code = pkgerrors.CodeConflict
		case http.StatusTooManyRequests:
			code = pkgerrors.CodeRateLimit
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("stripe %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
