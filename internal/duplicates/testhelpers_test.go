package duplicates

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

	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	"github.com/angelmondragon/subsync/pkg/outbox"
)

const subscriptionRecordsDDL = `
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

type stubProvider struct {
	mu       sync.Mutex
	canceled []string
	errs     map[string]error
}

func (p *stubProvider) ScheduleCancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, subscriptionID)
	return p.errs[subscriptionID]
}

func (p *stubProvider) UpdateSeatQuantity(ctx context.Context, update provider.SeatQuantityUpdate) error {
	return nil
}

func (p *stubProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*provider.Subscription, error) {
	return nil, nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
	err    error
}

func (o *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if o.err != nil {
		return o.err
	}
	o.events = append(o.events, event)
	return nil
}

type fixture struct {
	svc      *Service
	repo     subscriptions.Repository
	provider *stubProvider
	outbox   *recordingOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(subscriptionRecordsDDL).Error)

	repo := subscriptions.NewRepository(conn)
	prov := &stubProvider{errs: map[string]error{}}
	out := &recordingOutbox{}
	svc, err := NewService(ServiceParams{
		Records:           repo,
		Provider:          prov,
		TransactionRunner: db.NewFromConn(conn),
		Outbox:            out,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, provider: prov, outbox: out}
}

func (f *fixture) seed(t *testing.T, record models.SubscriptionRecord) models.SubscriptionRecord {
	t.Helper()
	if record.Status == "" {
		record.Status = enums.SubscriptionStatusActive
	}
	if record.Seats == 0 {
		record.Seats = 1
	}
	require.NoError(t, f.repo.Insert(context.Background(), &record))
	return record
}

func timePtr(t time.Time) *time.Time {
	return &t
}
