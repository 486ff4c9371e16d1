package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

type seatsBody struct {
	Seats          int    `json:"seats" validate:"required,min=1"`
	Provider       string `json:"provider,omitempty" validate:"omitempty,oneof=stripe square"`
	SubscriptionID string `json:"subscription_id,omitempty" validate:"omitempty,max=255,external_id"`
}

func jsonRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func details(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	d, _ := typed.Details().(map[string]string)
	return d
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var body seatsBody
	if err := DecodeJSONBody(jsonRequest(`{"seats":4,"provider":"stripe","subscription_id":"sub_123"}`), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Seats != 4 || body.SubscriptionID != "sub_123" {
		t.Fatalf("unexpected decode %+v", body)
	}
}

func TestDecodeJSONBodyFieldMessages(t *testing.T) {
	var body seatsBody
	d := details(t, DecodeJSONBody(jsonRequest(`{"seats":0,"provider":"paypal","subscription_id":"sub 1"}`), &body))
	if d["seats"] != "is required" {
		t.Fatalf("unexpected seats message %q", d["seats"])
	}
	if d["provider"] != "must be one of [stripe square]" {
		t.Fatalf("unexpected provider message %q", d["provider"])
	}
	if d["subscription_id"] == "" {
		t.Fatalf("expected external id failure, got %v", d)
	}
}

func TestDecodeJSONBodyRejectsUnknownAndTrailing(t *testing.T) {
	var body seatsBody
	d := details(t, DecodeJSONBody(jsonRequest(`{"seats":2,"plan":"pro"}`), &body))
	if d["plan"] != "is not allowed" {
		t.Fatalf("expected unknown field detail, got %v", d)
	}

	err := DecodeJSONBody(jsonRequest(`{"seats":2}{"seats":3}`), &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected trailing object to be rejected, got %v", err)
	}
}

func TestDecodeJSONBodyTypeAndSize(t *testing.T) {
	var body seatsBody
	d := details(t, DecodeJSONBody(jsonRequest(`{"seats":"four"}`), &body))
	if d["seats"] != "must be int" {
		t.Fatalf("unexpected type detail %v", d)
	}

	big := `{"subscription_id":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	err := DecodeJSONBody(jsonRequest(big), &body)
	if typed := pkgerrors.As(err); typed == nil || typed.Message() != "request body too large" {
		t.Fatalf("expected size error, got %v", err)
	}

	if err := DecodeJSONBody(jsonRequest(""), &body); pkgerrors.As(err).Message() != "request body is empty" {
		t.Fatalf("expected empty body error, got %v", err)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  cus_123\x00\n ", 0); got != "cus_123" {
		t.Fatalf("unexpected sanitize %q", got)
	}
	if got := SanitizeString("héllo", 2); got != "hé" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestIsExternalID(t *testing.T) {
	for id, want := range map[string]bool{
		"sub_1Nx":   true,
		"":          false,
		"sub 1":     false,
		"sub\t1":    false,
		"süb_1":     false,
		"SQ-ABC:12": true,
	} {
		if got := IsExternalID(id); got != want {
			t.Fatalf("IsExternalID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("ownerId", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "ownerId")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := ParseUUIDParam(req, "missing"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing param, got %v", err)
	}
}
