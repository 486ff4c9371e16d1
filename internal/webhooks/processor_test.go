package webhooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/subsync/internal/events"
	"github.com/angelmondragon/subsync/internal/reconcile"
	"github.com/angelmondragon/subsync/pkg/enums"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type stubEngine struct {
	calls int
	err   error
}

func (s *stubEngine) Apply(ctx context.Context, env events.Envelope) (reconcile.Result, error) {
	s.calls++
	if s.err != nil {
		return reconcile.Result{}, s.err
	}
	return reconcile.Result{Status: reconcile.StatusApplied, SubscriptionID: env.SubscriptionID}, nil
}

func newProcessor(t *testing.T, engine *stubEngine) *Processor {
	t.Helper()
	guard, err := NewIdempotencyGuard(newMemoryStore(), time.Hour, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	p, err := NewProcessor(ProcessorParams{Guard: guard, Engine: engine})
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	return p
}

func TestProcessorDropsRedelivery(t *testing.T) {
	engine := &stubEngine{}
	p := newProcessor(t, engine)
	env := events.Envelope{EventID: "evt_1", EventType: enums.BillingEventSubscriptionUpdated, SubscriptionID: "sub_1"}

	first, err := p.Process(context.Background(), env)
	if err != nil || first.Status != reconcile.StatusApplied {
		t.Fatalf("first delivery: %+v %v", first, err)
	}
	second, err := p.Process(context.Background(), env)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Reason != reconcile.ReasonDuplicateEventID || engine.calls != 1 {
		t.Fatalf("expected redelivery to be dropped, got %+v after %d calls", second, engine.calls)
	}
}

func TestProcessorReleasesKeyOnFailure(t *testing.T) {
	engine := &stubEngine{err: errors.New("provider down")}
	p := newProcessor(t, engine)
	env := events.Envelope{EventID: "evt_1", EventType: enums.BillingEventSubscriptionCreated, SubscriptionID: "sub_1"}

	if _, err := p.Process(context.Background(), env); err == nil {
		t.Fatal("expected failure to propagate")
	}
	engine.err = nil
	result, err := p.Process(context.Background(), env)
	if err != nil || result.Status != reconcile.StatusApplied || engine.calls != 2 {
		t.Fatalf("expected retry to reach the engine, got %+v %v calls=%d", result, err, engine.calls)
	}
}

func TestNewIdempotencyGuardValidates(t *testing.T) {
	if _, err := NewIdempotencyGuard(nil, time.Minute, "scope"); err == nil {
		t.Fatal("expected nil store to fail")
	}
	if _, err := NewIdempotencyGuard(newMemoryStore(), -time.Second, "scope"); err == nil {
		t.Fatal("expected negative ttl to fail")
	}
	if _, err := NewIdempotencyGuard(newMemoryStore(), time.Minute, ""); err == nil {
		t.Fatal("expected empty scope to fail")
	}
}
