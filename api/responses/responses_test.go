package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return body.Error
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"subscription_id": "sub_1"})

	if got := w.Code; got != http.StatusCreated {
		t.Fatalf("expected status 201 but got %d", got)
	}
	var body types.SuccessEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["subscription_id"] != "sub_1" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorMapsValidation(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-1")
	err := pkgerrors.New(pkgerrors.CodeValidation, "seats must be at least 1").
		WithDetails(map[string]string{"seats": "must be at least 1"})
	WriteError(context.Background(), nil, w, err)

	if got := w.Code; got != http.StatusBadRequest {
		t.Fatalf("expected status 400 but got %d", got)
	}
	apiErr := decodeError(t, w)
	if apiErr.Message != "seats must be at least 1" || apiErr.Details == nil {
		t.Fatalf("unexpected error body %+v", apiErr)
	}
	if apiErr.RequestID != "req-1" {
		t.Fatalf("expected request id echoed, got %q", apiErr.RequestID)
	}
	if apiErr.Retryable || w.Header().Get("Retry-After") != "" {
		t.Fatalf("validation errors are not retryable")
	}
}

func TestWriteErrorExposesAmbiguousCandidates(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeAmbiguous, "multiple live subscriptions").
		WithDetails(map[string]any{"candidates": []string{"sub_a", "sub_b"}})
	WriteError(context.Background(), nil, w, err)

	if got := w.Code; got != http.StatusConflict {
		t.Fatalf("expected status 409 but got %d", got)
	}
	apiErr := decodeError(t, w)
	if apiErr.Message != "multiple live subscriptions" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
	details, ok := apiErr.Details.(map[string]any)
	if !ok || len(details["candidates"].([]any)) != 2 {
		t.Fatalf("expected candidates in details, got %v", apiErr.Details)
	}
}

func TestWriteErrorDependencyAdvertisesRetry(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("stripe timeout"), "update seat quantity").
		WithDetails(map[string]any{"provider_applied": false})
	WriteError(context.Background(), nil, w, err)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After header, got %q", w.Header().Get("Retry-After"))
	}
	apiErr := decodeError(t, w)
	if !apiErr.Retryable {
		t.Fatalf("dependency errors should be flagged retryable")
	}
	if apiErr.Message != "dependency unavailable" {
		t.Fatalf("dependency message should stay generic, got %q", apiErr.Message)
	}
	if strings.Contains(apiErr.Message, "stripe") {
		t.Fatalf("cause leaked into public message")
	}
}

func TestWriteErrorDefaultsToInternalForUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("boom"))

	if got := w.Code; got != http.StatusInternalServerError {
		t.Fatalf("expected status 500 but got %d", got)
	}
	apiErr := decodeError(t, w)
	if apiErr.Code != string(pkgerrors.CodeInternal) || apiErr.Details != nil {
		t.Fatalf("unexpected internal error body %+v", apiErr)
	}
	if apiErr.Message == "boom" {
		t.Fatalf("raw error message must not be exposed")
	}
}

func TestWriteErrorLogsClientErrorsAsWarnings(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	WriteError(context.Background(), logg, httptest.NewRecorder(), pkgerrors.New(pkgerrors.CodeNotFound, "no record"))
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("expected warn entry, got %s", buf.String())
	}

	buf.Reset()
	WriteError(context.Background(), logg, httptest.NewRecorder(), errors.New("boom"))
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), `"http_status":500`) {
		t.Fatalf("expected error entry with status, got %s", buf.String())
	}
}
