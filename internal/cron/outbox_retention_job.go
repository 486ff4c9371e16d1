package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/pkg/logger"
)

const (
	defaultPublishedRetention = 30 * 24 * time.Hour
	defaultParkedRetention    = 90 * 24 * time.Hour
	defaultTerminalAttempts   = 10
)

// OutboxRetentionJobParams configures audit outbox housekeeping. Published rows are dropped after
// PublishedRetention unless they needed TerminalAttempts or more tries; parked rows (never
// published, attempts exhausted) are dropped after the longer ParkedRetention.
type OutboxRetentionJobParams struct {
	Logger             *logger.Logger
	DB                 txRunner
	Repository         outboxRetentionRepo
	PublishedRetention time.Duration
	ParkedRetention    time.Duration
	TerminalAttempts   int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
	DeleteParkedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}

	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		published: params.PublishedRetention,
		parked:    params.ParkedRetention,
		terminal:  params.TerminalAttempts,
		now:       time.Now,
	}
	if job.published <= 0 {
		job.published = defaultPublishedRetention
	}
	if job.parked <= 0 {
		job.parked = defaultParkedRetention
	}
	if job.parked < job.published {
		job.parked = job.published
	}
	if job.terminal <= 0 {
		job.terminal = defaultTerminalAttempts
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxRetentionRepo
	published time.Duration
	parked    time.Duration
	terminal  int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "audit-outbox-retention" }

// Run purges both classes in separate transactions so one failing does not hold back the other.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	publishedCutoff := now.Add(-j.published)
	parkedCutoff := now.Add(-j.parked)

	var publishedDeleted, parkedDeleted int64
	var errs error

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.repo.DeletePublishedBefore(ctx, tx, publishedCutoff, j.terminal)
		publishedDeleted = n
		return err
	})
	errs = multierr.Append(errs, wrapPhase("published", err))

	err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.repo.DeleteParkedBefore(ctx, tx, parkedCutoff, j.terminal)
		parkedDeleted = n
		return err
	})
	errs = multierr.Append(errs, wrapPhase("parked", err))

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"published_cutoff":  publishedCutoff,
		"parked_cutoff":     parkedCutoff,
		"terminal_attempts": j.terminal,
		"published_deleted": publishedDeleted,
		"parked_deleted":    parkedDeleted,
	})
	if errs != nil {
		j.logg.Error(logCtx, "outbox.retention_failed", errs)
		return fmt.Errorf("outbox retention: %w", errs)
	}
	j.logg.Info(logCtx, "outbox.retention_complete")
	return nil
}

func wrapPhase(phase string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s rows: %w", phase, err)
}
