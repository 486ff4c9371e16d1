package cron

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
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

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (o *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	o.events = append(o.events, event)
	return nil
}

func TestAnomalyScanFlagsOwnersOnce(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(subscriptionSchema).Error)
	records := subscriptions.NewRepository(conn)

	doubled := uuid.New()
	single := uuid.New()
	insert := func(owner uuid.UUID, id string, status enums.SubscriptionStatus) {
		require.NoError(t, records.Insert(context.Background(), &models.SubscriptionRecord{
			SubscriptionID: id, OwnerID: owner, Status: status, Seats: 1,
		}))
	}
	insert(doubled, "sub_a", enums.SubscriptionStatusActive)
	insert(doubled, "sub_b", enums.SubscriptionStatusTrialing)
	insert(single, "sub_c", enums.SubscriptionStatusActive)
	insert(single, "sub_d", enums.SubscriptionStatusCanceled)

	out := &recordingOutbox{}
	job, err := NewAnomalyScanJob(AnomalyScanJobParams{
		Logger:  testLogger(),
		DB:      db.NewFromConn(conn),
		Records: records,
		Outbox:  out,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	for _, id := range []string{"sub_a", "sub_b"} {
		record, err := records.FindByKey(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, record.HasMultipleActiveFlag, id)
		assert.False(t, record.CancelAtPeriodEnd, id)
	}
	untouched, err := records.FindByKey(context.Background(), "sub_c")
	require.NoError(t, err)
	assert.False(t, untouched.HasMultipleActiveFlag)

	require.Len(t, out.events, 1)
	data := out.events[0].Data.(payloads.AnomalyDetectedEvent)
	assert.Equal(t, doubled, data.OwnerID)
	assert.ElementsMatch(t, []string{"sub_a", "sub_b"}, data.LiveSubscription)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, out.events, 1)
}
