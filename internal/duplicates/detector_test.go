package duplicates

import (
	"context"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

func provenInput() EvaluateInput {
	return EvaluateInput{
		SubscriptionID: "sub_new",
		WorkspaceID:    "ws_1",
		PriceID:        "price_team",
		Provenance:     events.Provenance{Source: SourceAppCheckout, CorrelationID: "c1"},
	}
}

func TestProveCausality(t *testing.T) {
	candidate := models.SubscriptionRecord{SubscriptionID: "sub_old", WorkspaceID: "ws_1", PriceID: "price_team"}

	cases := []struct {
		name   string
		mutate func(*EvaluateInput)
		want   []string
	}{
		{name: "all conditions hold", mutate: func(*EvaluateInput) {}, want: nil},
		{name: "checkout session satisfies correlation", mutate: func(in *EvaluateInput) {
			in.Provenance.CorrelationID = ""
			in.Provenance.CheckoutSessionID = "cs_1"
		}, want: nil},
		{name: "foreign source", mutate: func(in *EvaluateInput) { in.Provenance.Source = "dashboard" }, want: []string{ConditionSource}},
		{name: "no correlation", mutate: func(in *EvaluateInput) { in.Provenance.CorrelationID = "" }, want: []string{ConditionCorrelation}},
		{name: "different workspace", mutate: func(in *EvaluateInput) { in.WorkspaceID = "ws_2" }, want: []string{ConditionWorkspace}},
		{name: "different price", mutate: func(in *EvaluateInput) { in.PriceID = "price_business" }, want: []string{ConditionPrice}},
		{name: "empty price never matches", mutate: func(in *EvaluateInput) { in.PriceID = "" }, want: []string{ConditionPrice}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := provenInput()
			tc.mutate(&input)
			got := ProveCausality(input, candidate)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ProveCausality() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClassifyNoOthers(t *testing.T) {
	eval := classify(provenInput(), nil)
	if eval.HasMultipleActive || eval.DuplicateOf != nil || len(eval.FailedConditions) != 0 {
		t.Fatalf("expected clean evaluation, got %+v", eval)
	}
}

func TestClassifySingleProvenDuplicate(t *testing.T) {
	others := []models.SubscriptionRecord{{SubscriptionID: "sub_old", WorkspaceID: "ws_1", PriceID: "price_team", Status: enums.SubscriptionStatusActive}}
	eval := classify(provenInput(), others)
	if !eval.HasMultipleActive {
		t.Fatal("expected anomaly flag")
	}
	if eval.DuplicateOf == nil || eval.DuplicateOf.SubscriptionID != "sub_old" {
		t.Fatalf("expected sub_old as duplicate, got %+v", eval.DuplicateOf)
	}
}

func TestClassifyPriceMismatchRefuses(t *testing.T) {
	others := []models.SubscriptionRecord{{SubscriptionID: "sub_old", WorkspaceID: "ws_1", PriceID: "price_starter"}}
	eval := classify(provenInput(), others)
	if eval.DuplicateOf != nil {
		t.Fatal("expected no duplicate")
	}
	if !eval.HasMultipleActive || !reflect.DeepEqual(eval.FailedConditions, []string{ConditionPrice}) {
		t.Fatalf("unexpected evaluation %+v", eval)
	}
}

func TestClassifyMultipleCandidatesRefuses(t *testing.T) {
	others := []models.SubscriptionRecord{
		{SubscriptionID: "sub_a", WorkspaceID: "ws_1", PriceID: "price_team"},
		{SubscriptionID: "sub_b", WorkspaceID: "ws_1", PriceID: "price_team"},
	}
	eval := classify(provenInput(), others)
	if eval.DuplicateOf != nil {
		t.Fatal("expected no duplicate when proof is not unique")
	}
	if !reflect.DeepEqual(eval.FailedConditions, []string{ConditionMultipleCandidates}) {
		t.Fatalf("unexpected conditions %v", eval.FailedConditions)
	}
	if !reflect.DeepEqual(eval.OtherIDs(), []string{"sub_a", "sub_b"}) {
		t.Fatalf("unexpected other ids %v", eval.OtherIDs())
	}
}

func TestClassifySkipsAlreadyScheduled(t *testing.T) {
	others := []models.SubscriptionRecord{
		{SubscriptionID: "sub_a", WorkspaceID: "ws_1", PriceID: "price_team", CancelAtPeriodEnd: true},
		{SubscriptionID: "sub_b", WorkspaceID: "ws_1", PriceID: "price_team"},
	}
	eval := classify(provenInput(), others)
	if eval.DuplicateOf == nil || eval.DuplicateOf.SubscriptionID != "sub_b" {
		t.Fatalf("expected sub_b as duplicate, got %+v", eval.DuplicateOf)
	}
}

func TestClassifyAllScheduledNamesTheReason(t *testing.T) {
	others := []models.SubscriptionRecord{
		{SubscriptionID: "sub_a", WorkspaceID: "ws_1", PriceID: "price_team", CancelAtPeriodEnd: true},
	}
	eval := classify(provenInput(), others)
	if eval.DuplicateOf != nil || !eval.HasMultipleActive {
		t.Fatalf("unexpected evaluation %+v", eval)
	}
	if !reflect.DeepEqual(eval.FailedConditions, []string{ConditionAlreadyScheduled}) {
		t.Fatalf("expected already_scheduled, got %v", eval.FailedConditions)
	}
}

func TestEvaluateReadsLiveRecordsOnly(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.seed(t, models.SubscriptionRecord{SubscriptionID: "sub_old", OwnerID: owner, WorkspaceID: "ws_1", PriceID: "price_team"})
	f.seed(t, models.SubscriptionRecord{SubscriptionID: "sub_dead", OwnerID: owner, WorkspaceID: "ws_1", PriceID: "price_team", Status: enums.SubscriptionStatusCanceled})

	input := provenInput()
	input.OwnerID = owner
	eval, err := f.svc.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.DuplicateOf == nil || eval.DuplicateOf.SubscriptionID != "sub_old" {
		t.Fatalf("expected sub_old, got %+v", eval.DuplicateOf)
	}
	if len(eval.Others) != 1 {
		t.Fatalf("expected canceled record to be ignored, got %d others", len(eval.Others))
	}
	if len(f.provider.canceled) != 0 {
		t.Fatal("evaluate must never call the provider")
	}
}
