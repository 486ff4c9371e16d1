package seats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/outbox"
	"github.com/angelmondragon/subsync/pkg/outbox/payloads"
)

const subscriptionSchema = `
CREATE TABLE subscription_records (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL UNIQUE,
  owner_id TEXT NOT NULL,
  workspace_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  seats INTEGER NOT NULL DEFAULT 1,
  price_id TEXT NOT NULL DEFAULT '',
  subscription_item_id TEXT NOT NULL DEFAULT '',
  plan_tier TEXT NOT NULL DEFAULT '',
  billing_interval_unit TEXT NOT NULL DEFAULT '',
  billing_interval_count INTEGER NOT NULL DEFAULT 0,
  current_period_start DATETIME,
  current_period_end DATETIME,
  trial_end DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  canceled_at DATETIME,
  access_end_date DATETIME,
  next_payment_attempt_at DATETIME,
  last_applied_event_id TEXT NOT NULL DEFAULT '',
  last_applied_event_created_at INTEGER NOT NULL DEFAULT 0,
  last_applied_event_type TEXT NOT NULL DEFAULT '',
  body_event_created_at INTEGER NOT NULL DEFAULT 0,
  correlation_id TEXT NOT NULL DEFAULT '',
  checkout_session_id TEXT NOT NULL DEFAULT '',
  origin_source TEXT NOT NULL DEFAULT '',
  has_multiple_active_flag INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`

type stubProvider struct {
	updates []provider.SeatQuantityUpdate
	err     error
}

func (p *stubProvider) ScheduleCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	return nil
}

func (p *stubProvider) UpdateSeatQuantity(ctx context.Context, update provider.SeatQuantityUpdate) error {
	p.updates = append(p.updates, update)
	return p.err
}

func (p *stubProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*provider.Subscription, error) {
	return nil, nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (o *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	o.events = append(o.events, event)
	return nil
}

// brokenWrites fails every local field update.
type brokenWrites struct {
	subscriptions.Repository
}

func (r brokenWrites) WithTx(tx *gorm.DB) subscriptions.Repository {
	return brokenWrites{Repository: r.Repository.WithTx(tx)}
}

func (r brokenWrites) UpdateFields(ctx context.Context, subscriptionID string, fields subscriptions.Fields) error {
	return errors.New("disk full")
}

var periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	records  subscriptions.Repository
	provider *stubProvider
	outbox   *recordingOutbox
	ownerID  uuid.UUID
}

func newFixture(t *testing.T, wrap func(subscriptions.Repository) subscriptions.Repository) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(subscriptionSchema).Error)

	base := subscriptions.NewRepository(conn)
	records := base
	if wrap != nil {
		records = wrap(base)
	}
	prov := &stubProvider{}
	out := &recordingOutbox{}
	svc, err := NewService(ServiceParams{
		Records:           records,
		Provider:          prov,
		TransactionRunner: db.NewFromConn(conn),
		Outbox:            out,
		Tiers:             testTiers(t),
		Clock:             func() time.Time { return periodStart.Add(15 * 24 * time.Hour) },
	})
	require.NoError(t, err)
	return &fixture{svc: svc, records: base, provider: prov, outbox: out, ownerID: uuid.New()}
}

func (f *fixture) seed(t *testing.T, subscriptionID string, seats int, status enums.SubscriptionStatus) {
	t.Helper()
	end := periodStart.Add(30 * 24 * time.Hour)
	require.NoError(t, f.records.Insert(context.Background(), &models.SubscriptionRecord{
		SubscriptionID:     subscriptionID,
		OwnerID:            f.ownerID,
		WorkspaceID:        "ws_1",
		Status:             status,
		Seats:              seats,
		PriceID:            "price_1",
		SubscriptionItemID: "si_" + subscriptionID,
		PlanTier:           PlanForSeats(seats),
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &end,
	}))
}

func TestSetSeatsUpdatesProviderThenRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 3, enums.SubscriptionStatusActive)

	result, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 8})
	require.NoError(t, err)
	assert.Equal(t, 3, result.PreviousSeats)
	assert.Equal(t, 8, result.NewSeats)
	assert.Equal(t, enums.PlanTierTeam, result.Plan)
	assert.Equal(t, "80", result.NewMonthlyCost.String())
	assert.Equal(t, "22", result.ProrationAmount.String())

	require.Len(t, f.provider.updates, 1)
	update := f.provider.updates[0]
	assert.Equal(t, "sub_1", update.SubscriptionID)
	assert.Equal(t, "si_sub_1", update.SubscriptionItemID)
	assert.Equal(t, 8, update.Quantity)
	assert.True(t, strings.HasPrefix(update.IdempotencyKey, "seats:sub_1:8:"), update.IdempotencyKey)

	record, err := f.records.FindByKey(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, 8, record.Seats)
	assert.Equal(t, enums.PlanTierTeam, record.PlanTier)

	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, enums.EventSubscriptionSeatsChanged, f.outbox.events[0].EventType)
	data := f.outbox.events[0].Data.(payloads.SeatsChangedEvent)
	assert.Equal(t, 3, data.PreviousSeats)
	assert.Equal(t, 8, data.NewSeats)
}

func TestSetSeatsRepeatedTransitionsUseDistinctProviderKeys(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 5, enums.SubscriptionStatusActive)
	ctx := context.Background()

	for _, n := range []int{8, 5, 8} {
		_, err := f.svc.SetSeats(ctx, SetSeatsInput{OwnerID: f.ownerID, Seats: n})
		require.NoError(t, err)
	}
	require.Len(t, f.provider.updates, 3)
	seen := map[string]bool{}
	for _, u := range f.provider.updates {
		require.False(t, seen[u.IdempotencyKey], "repeated seat transition reused key %s", u.IdempotencyKey)
		seen[u.IdempotencyKey] = true
	}
}

func TestSetSeatsRequestKeyIsStableAcrossRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 5, enums.SubscriptionStatusActive)
	f.provider.err = errors.New("stripe timeout")
	ctx := context.Background()
	actor := &outbox.ActorRef{ID: "user-1", Kind: outbox.ActorKindOwner}

	for i := 0; i < 2; i++ {
		_, err := f.svc.SetSeats(ctx, SetSeatsInput{OwnerID: f.ownerID, Seats: 8, Actor: actor, RequestKey: "req-1"})
		require.Error(t, err)
	}
	_, err := f.svc.SetSeats(ctx, SetSeatsInput{OwnerID: f.ownerID, Seats: 8, Actor: actor, RequestKey: "req-2"})
	require.Error(t, err)

	require.Len(t, f.provider.updates, 3)
	assert.Equal(t, f.provider.updates[0].IdempotencyKey, f.provider.updates[1].IdempotencyKey)
	assert.NotEqual(t, f.provider.updates[0].IdempotencyKey, f.provider.updates[2].IdempotencyKey)
	assert.LessOrEqual(t, len(f.provider.updates[0].IdempotencyKey), 255)

	record, err := f.records.FindByKey(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, 5, record.Seats)
}

func TestSetSeatsAmbiguousOwnerListsCandidates(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 3, enums.SubscriptionStatusActive)
	f.seed(t, "sub_2", 4, enums.SubscriptionStatusTrialing)

	_, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 8})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeAmbiguous, typed.Code())

	details := typed.Details().(map[string]any)
	candidates := details["candidates"].([]Candidate)
	ids := []string{candidates[0].SubscriptionID, candidates[1].SubscriptionID}
	assert.ElementsMatch(t, []string{"sub_1", "sub_2"}, ids)
	assert.Empty(t, f.provider.updates)
	assert.Empty(t, f.outbox.events)
}

func TestSetSeatsExplicitSubscriptionDisambiguates(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 3, enums.SubscriptionStatusActive)
	f.seed(t, "sub_2", 4, enums.SubscriptionStatusActive)

	result, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 2, SubscriptionID: "sub_2"})
	require.NoError(t, err)
	assert.Equal(t, "sub_2", result.SubscriptionID)
	require.Len(t, f.provider.updates, 1)
	assert.Equal(t, "sub_2", f.provider.updates[0].SubscriptionID)
}

func TestSetSeatsExplicitSubscriptionMustBelongToOwner(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 3, enums.SubscriptionStatusActive)

	_, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: uuid.New(), Seats: 2, SubscriptionID: "sub_1"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
	assert.Empty(t, f.provider.updates)
}

func TestSetSeatsRejectsCanceledSubscription(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 3, enums.SubscriptionStatusCanceled)

	_, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 2, SubscriptionID: "sub_1"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	_, err = f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 2})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestSetSeatsProviderFailureWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 3, enums.SubscriptionStatusActive)
	f.provider.err = errors.New("timeout")

	_, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 8})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	record, err := f.records.FindByKey(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, 3, record.Seats)
	assert.Empty(t, f.outbox.events)
}

func TestSetSeatsLocalFailureReportsProviderApplied(t *testing.T) {
	f := newFixture(t, func(r subscriptions.Repository) subscriptions.Repository { return brokenWrites{Repository: r} })
	f.seed(t, "sub_1", 3, enums.SubscriptionStatusActive)

	_, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 8})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
	assert.Equal(t, true, typed.Details().(map[string]any)["provider_applied"])
	assert.Len(t, f.provider.updates, 1)
}

func TestSetSeatsUnchangedCountSkipsProvider(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "sub_1", 3, enums.SubscriptionStatusActive)

	result, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 3})
	require.NoError(t, err)
	assert.True(t, result.ProrationAmount.IsZero())
	assert.Empty(t, f.provider.updates)
}

func TestSetSeatsValidatesInput(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SetSeats(context.Background(), SetSeatsInput{OwnerID: f.ownerID, Seats: 0})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.svc.SetSeats(context.Background(), SetSeatsInput{Seats: 2})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
