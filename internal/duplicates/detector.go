package duplicates

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/outbox"
)

// SourceAppCheckout marks subscriptions created by this system's own checkout flow.
const SourceAppCheckout = "app_checkout"

// Proof conditions reported when auto-cancellation is refused.
const (
	ConditionSource             = "source_not_app_checkout"
	ConditionCorrelation        = "missing_correlation_id"
	ConditionWorkspace          = "workspace_mismatch"
	ConditionPrice              = "price_mismatch"
	ConditionMultipleCandidates = "multiple_candidates"
	ConditionAlreadyScheduled   = "already_scheduled"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EvaluateInput describes a newly observed subscription.
type EvaluateInput struct {
	OwnerID        uuid.UUID
	SubscriptionID string
	WorkspaceID    string
	PriceID        string
	Provenance     events.Provenance
}

// Evaluation is the detector's verdict for one new subscription.
type Evaluation struct {
	HasMultipleActive bool
	Others            []models.SubscriptionRecord
	DuplicateOf       *models.SubscriptionRecord
	FailedConditions  []string
}

// OtherIDs lists the subscription ids of the other live records.
func (e Evaluation) OtherIDs() []string {
	ids := make([]string, 0, len(e.Others))
	for _, other := range e.Others {
		ids = append(ids, other.SubscriptionID)
	}
	return ids
}

// ServiceParams wires the detector.
type ServiceParams struct {
	Records           subscriptions.Repository
	Provider          provider.BillingProvider
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Logger            *logger.Logger
}

// Service finds duplicate live subscriptions and resolves them on operator request.
type Service struct {
	records  subscriptions.Repository
	provider provider.BillingProvider
	txRunner txRunner
	outbox   outboxEmitter
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Records == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repository required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing provider required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	return &Service{
		records:  params.Records,
		provider: params.Provider,
		txRunner: params.TransactionRunner,
		outbox:   params.Outbox,
		logg:     params.Logger,
	}, nil
}

// Evaluate classifies the other live records of the owner. It never calls the provider.
func (s *Service) Evaluate(ctx context.Context, input EvaluateInput) (Evaluation, error) {
	others, err := s.records.FindLiveByOwner(ctx, input.OwnerID, input.SubscriptionID)
	if err != nil {
		return Evaluation{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load live subscriptions")
	}
	return classify(input, others), nil
}

func classify(input EvaluateInput, others []models.SubscriptionRecord) Evaluation {
	eval := Evaluation{Others: others}
	if len(others) == 0 {
		return eval
	}
	eval.HasMultipleActive = true

	var qualifying []int
	failed := map[string]struct{}{}
	for i := range others {
		if others[i].CancelAtPeriodEnd {
			failed[ConditionAlreadyScheduled] = struct{}{}
			continue
		}
		conditions := ProveCausality(input, others[i])
		if len(conditions) == 0 {
			qualifying = append(qualifying, i)
			continue
		}
		for _, c := range conditions {
			failed[c] = struct{}{}
		}
	}

	switch len(qualifying) {
	case 1:
		dup := others[qualifying[0]]
		eval.DuplicateOf = &dup
	case 0:
		for _, c := range []string{ConditionSource, ConditionCorrelation, ConditionWorkspace, ConditionPrice, ConditionAlreadyScheduled} {
			if _, ok := failed[c]; ok {
				eval.FailedConditions = append(eval.FailedConditions, c)
			}
		}
	default:
		eval.FailedConditions = []string{ConditionMultipleCandidates}
	}
	return eval
}

// ProveCausality returns the proof conditions the candidate fails. An empty result means the
// new subscription provably replaced the candidate through our own checkout.
func ProveCausality(input EvaluateInput, candidate models.SubscriptionRecord) []string {
	var failed []string
	if strings.TrimSpace(input.Provenance.Source) != SourceAppCheckout {
		failed = append(failed, ConditionSource)
	}
	if strings.TrimSpace(input.Provenance.CorrelationID) == "" && strings.TrimSpace(input.Provenance.CheckoutSessionID) == "" {
		failed = append(failed, ConditionCorrelation)
	}
	if !sameNonEmpty(input.WorkspaceID, candidate.WorkspaceID) {
		failed = append(failed, ConditionWorkspace)
	}
	if !sameNonEmpty(input.PriceID, candidate.PriceID) {
		failed = append(failed, ConditionPrice)
	}
	return failed
}

func sameNonEmpty(a, b string) bool {
	a = strings.TrimSpace(a)
	return a != "" && a == strings.TrimSpace(b)
}
