package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
)

type memStore struct {
	mu         sync.Mutex
	webhooks   []models.Webhook
	deliveries []*models.WebhookDelivery
}

func (m *memStore) GetActiveWebhooksForEvent(_ context.Context, userID, event string) ([]models.Webhook, error) {
	var out []models.Webhook
	for _, wh := range m.webhooks {
		if wh.UserID != userID || !wh.Active {
			continue
		}
		for _, e := range wh.Events {
			if e == event {
				out = append(out, wh)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) CreateWebhookDelivery(_ context.Context, d *models.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

func (m *memStore) UpdateWebhookDelivery(_ context.Context, _ *models.WebhookDelivery) error {
	return nil
}

func TestSignPayload(t *testing.T) {
	sig := SignPayload([]byte(`{"event":"order.completed"}`), "secret")
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
	if sig != SignPayload([]byte(`{"event":"order.completed"}`), "secret") {
		t.Error("signature is not deterministic")
	}
	if sig == SignPayload([]byte(`{"event":"order.completed"}`), "other") {
		t.Error("different secrets produced the same signature")
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	b, _ := GenerateSecret()
	if len(a) != 64 || a == b {
		t.Errorf("GenerateSecret() = %q, %q", a, b)
	}
}

func TestNotifyEvent_DeliversSignedPayload(t *testing.T) {
	var (
		mu      sync.Mutex
		gotSig  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := &memStore{webhooks: []models.Webhook{
		{ID: "wh-1", UserID: "user-1", URL: srv.URL, Events: []string{models.EventOrderCompleted}, Secret: "s3cret", Active: true},
		{ID: "wh-2", UserID: "user-2", URL: srv.URL, Events: []string{models.EventOrderCompleted}, Active: true},
	}}
	svc := New(store)

	svc.NotifyEvent(context.Background(), "user-1", models.EventOrderCompleted, map[string]string{"order_id": "ord-1"})
	svc.Shutdown()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1 (other users' webhooks must not fire)", len(store.deliveries))
	}
	d := store.deliveries[0]
	if d.Status != "success" || d.Attempts != 1 || d.ResponseCode != http.StatusNoContent {
		t.Errorf("delivery = %+v", d)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotSig != SignPayload(gotBody, "s3cret") {
		t.Errorf("signature %q does not match body", gotSig)
	}
}

func TestNotifyEvent_RetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &memStore{webhooks: []models.Webhook{
		{ID: "wh-1", UserID: "user-1", URL: srv.URL, Events: []string{models.EventPaymentFailed}, Active: true},
	}}
	svc := New(store)
	svc.retryDelays = []time.Duration{0, time.Millisecond, time.Millisecond}

	svc.NotifyEvent(context.Background(), "user-1", models.EventPaymentFailed, nil)
	svc.inflight.Wait()

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	d := store.deliveries[0]
	if d.Status != "failed" || d.LastError != "HTTP 500" {
		t.Errorf("delivery = %+v, want failed with HTTP 500", d)
	}
}

func TestNotifyEvent_AfterShutdownIsDropped(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	store := &memStore{webhooks: []models.Webhook{
		{ID: "wh-1", UserID: "user-1", URL: srv.URL, Events: []string{models.EventOrderCompleted}, Active: true},
	}}
	svc := New(store)
	svc.Shutdown()

	svc.NotifyEvent(context.Background(), "user-1", models.EventOrderCompleted, nil)
	svc.inflight.Wait()

	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("deliveries after shutdown = %d, want 0", got)
	}
	if len(store.deliveries) != 0 {
		t.Errorf("delivery rows = %d, want 0", len(store.deliveries))
	}
}

// TestNotifyEvent_ConcurrentWithShutdown fires events while the service is
// shutting down; every delivery that started must be finished by the time
// Shutdown returns.
func TestNotifyEvent_ConcurrentWithShutdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &memStore{webhooks: []models.Webhook{
		{ID: "wh-1", UserID: "user-1", URL: srv.URL, Events: []string{models.EventOrderCompleted}, Active: true},
	}}
	svc := New(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.NotifyEvent(context.Background(), "user-1", models.EventOrderCompleted, nil)
		}()
	}
	svc.Shutdown()
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, d := range store.deliveries {
		if d.Status == "pending" {
			t.Errorf("delivery %+v still pending after Shutdown", d)
		}
	}
}
