package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/enums"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
	"github.com/angelmondragon/subsync/pkg/outbox"
	"github.com/angelmondragon/subsync/pkg/outbox/payloads"
)

const defaultAnomalyScanLimit = 500

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AnomalyScanJobParams configures the scan that flags owners holding several live subscriptions.
type AnomalyScanJobParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Records subscriptions.Repository
	Outbox  outboxEmitter
	Metrics *metrics.ReconcileMetrics
	Limit   int
}

func NewAnomalyScanJob(params AnomalyScanJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultAnomalyScanLimit
	}
	return &anomalyScanJob{
		logg:    params.Logger,
		db:      params.DB,
		records: params.Records,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		limit:   limit,
	}, nil
}

type anomalyScanJob struct {
	logg    *logger.Logger
	db      txRunner
	records subscriptions.Repository
	outbox  outboxEmitter
	metrics *metrics.ReconcileMetrics
	limit   int
}

func (j *anomalyScanJob) Name() string { return "subscription-anomaly-scan" }

// Run flags every live record of an owner with more than one. Nothing is canceled.
func (j *anomalyScanJob) Run(ctx context.Context) error {
	owners, err := j.records.ListOwnersWithMultipleLive(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list owners with multiple live subscriptions: %w", err)
	}
	var errs error
	flagged := 0
	for _, ownerID := range owners {
		newly, err := j.flagOwner(ctx, ownerID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("owner %s: %w", ownerID, err))
			continue
		}
		if newly {
			flagged++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"owners_scanned": len(owners),
		"owners_flagged": flagged,
	}), "subscription anomaly scan complete")
	return errs
}

func (j *anomalyScanJob) flagOwner(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	live, err := j.records.FindLiveByOwner(ctx, ownerID, "")
	if err != nil {
		return false, err
	}
	if len(live) < 2 {
		return false, nil
	}
	var unflagged, ids []string
	for _, r := range live {
		ids = append(ids, r.SubscriptionID)
		if !r.HasMultipleActiveFlag {
			unflagged = append(unflagged, r.SubscriptionID)
		}
	}
	if len(unflagged) == 0 {
		return false, nil
	}

	err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.records.WithTx(tx)
		for _, id := range unflagged {
			if err := repo.UpdateFields(ctx, id, subscriptions.Fields{"has_multiple_active_flag": true}); err != nil {
				return err
			}
		}
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionAnomalyDetected,
			AggregateType: enums.AggregateOwner,
			AggregateID:   ownerID.String(),
			Actor:         outbox.SystemActor("anomaly-scan"),
			Data: payloads.AnomalyDetectedEvent{
				OwnerID:          ownerID,
				SubscriptionID:   unflagged[0],
				LiveSubscription: ids,
				Source:           "cron",
			},
		})
	})
	if err != nil {
		return false, err
	}
	j.metrics.IncAnomaly("cron")
	j.logg.Warn(j.logg.WithFields(j.logg.WithOwnerID(ctx, ownerID.String()), map[string]any{
		"live_subscriptions": ids,
	}), "owner has multiple live subscriptions")
	return true, nil
}
