package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	subs      map[string][]*storage.Webhook
	touched   map[string]int64
	touchErrs map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: map[string][]*storage.Webhook{}, touched: map[string]int64{}}
}

func (s *fakeStore) ListActiveSubscribersForEvent(eventType string) ([]*storage.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[eventType], nil
}

func (s *fakeStore) TouchWebhook(id string, triggeredAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[id] = triggeredAt
	return nil
}

func (s *fakeStore) wasTouched(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.touched[id]
	return ok
}

func TestSignIsDeterministicHMAC(t *testing.T) {
	body := []byte(`{"event":"trace_recorded"}`)
	a := Sign("secret-1", body)
	b := Sign("secret-1", body)
	c := Sign("secret-2", body)
	if a != b {
		t.Fatalf("same secret and body should sign identically")
	}
	if a == c {
		t.Fatalf("different secrets should produce different signatures")
	}
}

func TestDispatcherDeliversToActiveSubscriberAndTouches(t *testing.T) {
	var gotSig, gotEvent string
	var callCount int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		gotSig = r.Header.Get(SignatureHeader)
		gotEvent = r.Header.Get(EventHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeStore()
	sub := &storage.Webhook{ID: "wh-1", URL: srv.URL, Secret: "shh", IsActive: true}
	store.subs[string(storage.WebhookTraceRecorded)] = []*storage.Webhook{sub}

	cfg := DefaultConfig()
	cfg.QueueSize = 10
	d := New(store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(storage.WebhookTraceRecorded, []byte(`{"event":"trace_recorded"}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.wasTouched("wh-1") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !store.wasTouched("wh-1") {
		t.Fatalf("expected the subscriber to be touched after a successful delivery")
	}
	if atomic.LoadInt32(&callCount) != 1 {
		t.Fatalf("expected exactly one delivery attempt on success, got %d", callCount)
	}
	if gotEvent != string(storage.WebhookTraceRecorded) {
		t.Fatalf("expected event header %q, got %q", storage.WebhookTraceRecorded, gotEvent)
	}
	wantSig := Sign("shh", []byte(`{"event":"trace_recorded"}`))
	if gotSig != wantSig {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, wantSig)
	}
}

func TestDispatcherRetriesOnFailureThenGivesUp(t *testing.T) {
	var callCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newFakeStore()
	sub := &storage.Webhook{ID: "wh-2", URL: srv.URL, Secret: "shh", IsActive: true}
	store.subs[string(storage.WebhookAnomaly)] = []*storage.Webhook{sub}

	cfg := Config{QueueSize: 10, Timeout: time.Second, Retries: []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}}
	d := New(store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(storage.WebhookAnomaly, []byte(`{}`))

	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt32(&callCount); got != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3 calls, got %d", got)
	}
	if store.wasTouched("wh-2") {
		t.Fatalf("a failing subscriber should never be touched")
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	store := newFakeStore()
	d := New(store, Config{QueueSize: 1, Timeout: time.Second})

	d.Enqueue(storage.WebhookTraceRecorded, []byte(`{}`))
	d.Enqueue(storage.WebhookTraceRecorded, []byte(`{}`))
	d.Enqueue(storage.WebhookTraceRecorded, []byte(`{}`))

	if d.QueueDepth() != 1 {
		t.Fatalf("expected enqueue to drop rather than block once full, got depth %d", d.QueueDepth())
	}
}
