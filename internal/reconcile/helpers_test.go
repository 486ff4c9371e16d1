package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/duplicates"
	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/owners"
	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	"github.com/angelmondragon/subsync/pkg/outbox"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS billing_customers (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  external_customer_id TEXT NOT NULL UNIQUE,
  owner_id TEXT NOT NULL,
  workspace_id TEXT NOT NULL DEFAULT '',
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS subscription_records (
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

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubProvider struct {
	mu        sync.Mutex
	canceled  []string
	cancelErr error
}

func (p *stubProvider) ScheduleCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, subscriptionID)
	return p.cancelErr
}

func (p *stubProvider) UpdateSeatQuantity(ctx context.Context, update provider.SeatQuantityUpdate) error {
	return nil
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

func (o *recordingOutbox) types() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.EventType)
	}
	return out
}

// flakyRepo loses the compare-and-set a fixed number of times.
type flakyRepo struct {
	subscriptions.Repository
	conflicts *int
}

func (r flakyRepo) WithTx(tx *gorm.DB) subscriptions.Repository {
	return flakyRepo{Repository: r.Repository.WithTx(tx), conflicts: r.conflicts}
}

func (r flakyRepo) ConditionalUpdate(ctx context.Context, subscriptionID string, expected models.Watermark, fields subscriptions.Fields) error {
	if *r.conflicts > 0 {
		*r.conflicts--
		return subscriptions.ErrWatermarkConflict
	}
	return r.Repository.ConditionalUpdate(ctx, subscriptionID, expected, fields)
}

type engineFixture struct {
	engine   *Engine
	records  subscriptions.Repository
	owners   owners.Repository
	provider *stubProvider
	outbox   *recordingOutbox
	ownerID  uuid.UUID
}

func newEngineFixture(t *testing.T) *engineFixture {
	return newEngineFixtureWith(t, func(r subscriptions.Repository) subscriptions.Repository { return r })
}

func newEngineFixtureWith(t *testing.T, wrap func(subscriptions.Repository) subscriptions.Repository) *engineFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(testSchema).Error)

	records := wrap(subscriptions.NewRepository(conn))
	ownerRepo := owners.NewRepository(conn)
	prov := &stubProvider{}
	out := &recordingOutbox{}
	txRunner := db.NewFromConn(conn)

	detector, err := duplicates.NewService(duplicates.ServiceParams{
		Records:           records,
		Provider:          prov,
		TransactionRunner: txRunner,
		Outbox:            out,
	})
	require.NoError(t, err)

	engine, err := NewEngine(EngineParams{
		Records:           records,
		Owners:            ownerRepo,
		Detector:          detector,
		Provider:          prov,
		TransactionRunner: txRunner,
		Outbox:            out,
		Clock:             func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	ownerID := uuid.New()
	require.NoError(t, ownerRepo.Upsert(context.Background(), &models.BillingCustomer{
		Provider:           "stripe",
		ExternalCustomerID: "cus_1",
		OwnerID:            ownerID,
		WorkspaceID:        "ws_1",
	}))

	return &engineFixture{
		engine:   engine,
		records:  records,
		owners:   ownerRepo,
		provider: prov,
		outbox:   out,
		ownerID:  ownerID,
	}
}

func (f *engineFixture) seed(t *testing.T, record models.SubscriptionRecord) {
	t.Helper()
	if record.OwnerID == uuid.Nil {
		record.OwnerID = f.ownerID
	}
	if record.Status == "" {
		record.Status = enums.SubscriptionStatusActive
	}
	if record.Seats == 0 {
		record.Seats = 1
	}
	require.NoError(t, f.records.Insert(context.Background(), &record))
}

func (f *engineFixture) load(t *testing.T, subscriptionID string) *models.SubscriptionRecord {
	t.Helper()
	record, err := f.records.FindByKey(context.Background(), subscriptionID)
	require.NoError(t, err)
	return record
}

func (f *engineFixture) apply(t *testing.T, env events.Envelope) Result {
	t.Helper()
	result, err := f.engine.Apply(context.Background(), env)
	require.NoError(t, err)
	return result
}

func envelope(id string, createdAt int64, eventType enums.BillingEventType, subscriptionID string, payload map[string]any) events.Envelope {
	return events.Envelope{
		EventID:        id,
		EventCreatedAt: createdAt,
		EventType:      eventType,
		CustomerID:     "cus_1",
		SubscriptionID: subscriptionID,
		Payload:        payload,
	}
}

func checkoutMetadata(correlationID string) map[string]any {
	return map[string]any{
		events.MetaSource:        "app_checkout",
		events.MetaCorrelationID: correlationID,
		events.MetaWorkspaceID:   "ws_1",
	}
}
