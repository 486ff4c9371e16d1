package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"
)

func TestOutboxRetentionJobUsesBothCutoffs(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, repo, OutboxRetentionJobParams{
		PublishedRetention: 7 * 24 * time.Hour,
		ParkedRetention:    60 * 24 * time.Hour,
		TerminalAttempts:   4,
	})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-7 * 24 * time.Hour); !repo.publishedCutoff.Equal(want) {
		t.Fatalf("expected published cutoff %s, got %s", want, repo.publishedCutoff)
	}
	if want := now.Add(-60 * 24 * time.Hour); !repo.parkedCutoff.Equal(want) {
		t.Fatalf("expected parked cutoff %s, got %s", want, repo.parkedCutoff)
	}
	if repo.publishedAttempts != 4 || repo.parkedAttempts != 4 {
		t.Fatalf("expected terminal attempts passed through, got %d/%d", repo.publishedAttempts, repo.parkedAttempts)
	}
}

func TestOutboxRetentionJobDefaults(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakeOutboxRetentionRepo{}, OutboxRetentionJobParams{
		ParkedRetention: time.Hour,
	})
	if job.published != defaultPublishedRetention {
		t.Fatalf("expected default published retention, got %s", job.published)
	}
	if job.parked != job.published {
		t.Fatalf("parked retention must not be shorter than published, got %s", job.parked)
	}
	if job.terminal != defaultTerminalAttempts {
		t.Fatalf("expected default terminal attempts, got %d", job.terminal)
	}
}

func TestOutboxRetentionJobRunsParkedPhaseAfterFailure(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{publishedErr: errors.New("boom")}
	job := newOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if repo.parkedCalls != 1 {
		t.Fatalf("parked purge should still run, calls=%d", repo.parkedCalls)
	}
}

func TestNewOutboxRetentionJobRequiresRepository(t *testing.T) {
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), DB: outboxRetentionTxRunner{}}); err == nil {
		t.Fatal("expected error without repository")
	}
}

func newOutboxRetentionJob(t *testing.T, repo *fakeOutboxRetentionRepo, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = testLogger()
	params.DB = outboxRetentionTxRunner{}
	params.Repository = repo
	jobIface, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

type fakeOutboxRetentionRepo struct {
	publishedCutoff   time.Time
	parkedCutoff      time.Time
	publishedAttempts int
	parkedAttempts    int
	parkedCalls       int
	publishedErr      error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.publishedCutoff = cutoff
	f.publishedAttempts = minAttemptCount
	if f.publishedErr != nil {
		return 0, f.publishedErr
	}
	return 7, nil
}

func (f *fakeOutboxRetentionRepo) DeleteParkedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error) {
	f.parkedCalls++
	f.parkedCutoff = cutoff
	f.parkedAttempts = terminalAttempts
	return 2, nil
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
