package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

type stubStripeAPI struct {
	sub         *stripe.Subscription
	getErr      error
	updateErr   error
	updatedID   string
	updated     *stripe.SubscriptionParams
	itemID      string
	itemParams  *stripe.SubscriptionItemParams
	getCalls    int
	updateCalls int
}

func (s *stubStripeAPI) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.updateCalls++
	s.updatedID = id
	s.updated = params
	return s.sub, s.updateErr
}

func (s *stubStripeAPI) GetSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.getCalls++
	return s.sub, s.getErr
}

func (s *stubStripeAPI) UpdateSubscriptionItem(ctx context.Context, id string, params *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error) {
	s.itemID = id
	s.itemParams = params
	return &stripe.SubscriptionItem{ID: id}, s.updateErr
}

func sampleStripeSubscription() *stripe.Subscription {
	return &stripe.Subscription{
		ID:                "sub_1",
		Status:            stripe.SubscriptionStatusActive,
		CancelAtPeriodEnd: true,
		Customer:          &stripe.Customer{ID: "cus_1"},
		Metadata:          map[string]string{"source": "app_checkout"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				ID:                 "si_1",
				Quantity:           4,
				CurrentPeriodStart: 1700000000,
				CurrentPeriodEnd:   1702592000,
				Price: &stripe.Price{
					ID:        "price_team",
					Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth, IntervalCount: 1},
				},
			}},
		},
	}
}

func TestStripeScheduleCancelSetsFlag(t *testing.T) {
	api := &stubStripeAPI{sub: sampleStripeSubscription()}
	p := &StripeProvider{api: api}

	if err := p.ScheduleCancelAtPeriodEnd(context.Background(), "sub_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.updatedID != "sub_1" || api.updated == nil || api.updated.CancelAtPeriodEnd == nil || !*api.updated.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end update, got %+v", api.updated)
	}
}

func TestStripeScheduleCancelMapsNotFound(t *testing.T) {
	api := &stubStripeAPI{updateErr: &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "no such subscription"}}
	p := &StripeProvider{api: api}

	err := p.ScheduleCancelAtPeriodEnd(context.Background(), "sub_missing")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStripeUpdateSeatQuantityWithoutItemFailsFast(t *testing.T) {
	api := &stubStripeAPI{sub: sampleStripeSubscription()}
	p := &StripeProvider{api: api}

	err := p.UpdateSeatQuantity(context.Background(), SeatQuantityUpdate{SubscriptionID: "sub_1", Quantity: 7, IdempotencyKey: "seats:sub_1:7:k"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if api.getCalls != 0 || api.itemID != "" {
		t.Fatalf("expected no provider calls, got get=%d item=%q", api.getCalls, api.itemID)
	}
}

func TestStripeUpdateSeatQuantityUsesKnownItem(t *testing.T) {
	api := &stubStripeAPI{}
	p := &StripeProvider{api: api}

	if err := p.UpdateSeatQuantity(context.Background(), SeatQuantityUpdate{SubscriptionID: "sub_1", SubscriptionItemID: "si_9", Quantity: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.getCalls != 0 || api.itemID != "si_9" {
		t.Fatalf("expected direct item update, got calls=%d item=%q", api.getCalls, api.itemID)
	}
}

func TestStripeUpdateSeatQuantityRejectsZero(t *testing.T) {
	p := &StripeProvider{api: &stubStripeAPI{}}
	err := p.UpdateSeatQuantity(context.Background(), SeatQuantityUpdate{SubscriptionID: "sub_1"})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStripeRetrieveSubscriptionConverts(t *testing.T) {
	p := &StripeProvider{api: &stubStripeAPI{sub: sampleStripeSubscription()}}

	sub, err := p.RetrieveSubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusActive || sub.Seats != 4 || sub.PriceID != "price_team" {
		t.Fatalf("unexpected conversion %+v", sub)
	}
	if sub.CustomerID != "cus_1" || sub.SubscriptionItemID != "si_1" || !sub.CancelAtPeriodEnd {
		t.Fatalf("unexpected conversion %+v", sub)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != 1702592000 {
		t.Fatalf("unexpected period end %v", sub.CurrentPeriodEnd)
	}
	if sub.IntervalUnit != enums.BillingIntervalMonth || sub.IntervalCount != 1 {
		t.Fatalf("unexpected interval %q/%d", sub.IntervalUnit, sub.IntervalCount)
	}
}

func TestStripeRetrieveSubscriptionWrapsTransportErrors(t *testing.T) {
	p := &StripeProvider{api: &stubStripeAPI{getErr: errors.New("connection reset")}}

	_, err := p.RetrieveSubscription(context.Background(), "sub_1")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
