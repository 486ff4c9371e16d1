package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

type squareAPI interface {
	CancelSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
}

// SquareProvider adapts the Square subscriptions API. Square bills a plan variation,
// not a quantity, so seat updates are rejected.
type SquareProvider struct {
	api squareAPI
}

// NewSquareProvider wraps a pkg/square client.
func NewSquareProvider(api squareAPI) (*SquareProvider, error) {
	if api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	return &SquareProvider{api: api}, nil
}

// ScheduleCancelAtPeriodEnd uses Square's cancel, which takes effect at the charged-through date.
func (p *SquareProvider) ScheduleCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	_, err := p.api.CancelSubscription(ctx, subscriptionID)
	return err
}

func (p *SquareProvider) UpdateSeatQuantity(ctx context.Context, update SeatQuantityUpdate) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "square subscriptions do not support seat quantities").
		WithDetails(map[string]any{"subscription_id": update.SubscriptionID})
}

func (p *SquareProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := p.api.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return FromSquareSubscription(sub)
}

// FromSquareSubscription converts a Square subscription. Square has no seat quantity, so seats is always 1.
func FromSquareSubscription(sub *sq.Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square subscription is nil")
	}
	rawStatus := ""
	if s := sub.GetStatus(); s != nil {
		rawStatus = string(*s)
	}
	status, ok := MapSquareStatus(rawStatus)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("unknown square status %q", rawStatus))
	}
	canceledDate := parseSquareDate(sub.GetCanceledDate())
	out := &Subscription{
		ID:                 derefString(sub.GetID()),
		CustomerID:         derefString(sub.GetCustomerID()),
		Status:             status,
		Seats:              1,
		PriceID:            strings.TrimSpace(derefString(sub.GetPlanVariationID())),
		CurrentPeriodStart: parseSquareDate(sub.GetStartDate()),
		CurrentPeriodEnd:   parseSquareDate(sub.GetChargedThroughDate()),
		CancelAtPeriodEnd:  status != "" && !status.IsTerminal() && canceledDate != nil,
	}
	if status.IsTerminal() {
		out.EndedAt = canceledDate
	}
	return out, nil
}

func parseSquareDate(value *string) *time.Time {
	if value == nil {
		return nil
	}
	raw := strings.TrimSpace(*value)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
