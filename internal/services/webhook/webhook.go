// Package webhook sends signed notifications to user-registered endpoints
// when orders complete, payments fail and document AI jobs finish.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
)

// Store is the persistence the service needs. *database.DB satisfies it.
type Store interface {
	GetActiveWebhooksForEvent(ctx context.Context, userID, event string) ([]models.Webhook, error)
	CreateWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error
	UpdateWebhookDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

// DefaultRetryDelays are the waits before each delivery attempt.
var DefaultRetryDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}

// Service handles webhook notification delivery.
type Service struct {
	store       Store
	client      *http.Client
	retryDelays []time.Duration
	shutdownCh  chan struct{}
	closeOnce   sync.Once

	// mu orders inflight.Add against Shutdown's Wait; closed is set once
	// Shutdown starts and no delivery may begin after that.
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a new webhook service.
func New(store Store) *Service {
	return &Service{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelays: DefaultRetryDelays,
		shutdownCh:  make(chan struct{}),
	}
}

// Shutdown aborts pending retries and waits for in-flight deliveries to
// record their final state. Events notified afterwards are dropped.
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.shutdownCh)
		s.mu.Unlock()
	})
	s.inflight.Wait()
}

// GenerateSecret creates a random HMAC secret for a webhook.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SignPayload creates an HMAC-SHA256 signature for a payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// NotifyEvent delivers an event to every active webhook the user has
// registered for it. Delivery is asynchronous with retries.
func (s *Service) NotifyEvent(ctx context.Context, userID, event string, data interface{}) {
	webhooks, err := s.store.GetActiveWebhooksForEvent(ctx, userID, event)
	if err != nil {
		log.Printf("⚠️  Failed to get webhooks for event %s: %v", event, err)
		return
	}
	if len(webhooks) == 0 {
		return
	}

	payloadJSON, err := json.Marshal(models.WebhookPayload{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("⚠️  Failed to marshal webhook payload: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("⚠️  Webhook service shut down; dropping event %s for user %s", event, userID)
		return
	}
	s.inflight.Add(len(webhooks))
	s.mu.Unlock()

	for _, wh := range webhooks {
		go func(wh models.Webhook) {
			defer s.inflight.Done()
			s.deliverWithRetry(wh, event, payloadJSON)
		}(wh)
	}
}

// deliverWithRetry attempts delivery once per entry in retryDelays and
// records each attempt on the delivery row.
func (s *Service) deliverWithRetry(wh models.Webhook, event string, payloadJSON []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	delivery := &models.WebhookDelivery{
		WebhookID: wh.ID,
		Event:     event,
		Payload:   string(payloadJSON),
		Status:    "pending",
	}
	if err := s.store.CreateWebhookDelivery(ctx, delivery); err != nil {
		log.Printf("⚠️  Failed to create webhook delivery record: %v", err)
		return
	}

	for attempt, delay := range s.retryDelays {
		if attempt > 0 {
			select {
			case <-s.shutdownCh:
				log.Printf("⚠️  Webhook delivery aborted due to shutdown: %s → %s", event, wh.URL)
				s.finish(ctx, delivery, "failed", "shutdown during delivery")
				return
			case <-ctx.Done():
				log.Printf("⚠️  Webhook delivery timed out: %s → %s", event, wh.URL)
				s.finish(ctx, delivery, "failed", "delivery timeout")
				return
			case <-time.After(delay):
			}
		}

		delivery.Attempts = attempt + 1
		statusCode, err := s.deliver(ctx, wh, payloadJSON)
		delivery.ResponseCode = statusCode

		if err == nil && statusCode >= 200 && statusCode < 300 {
			now := time.Now()
			delivery.DeliveredAt = &now
			s.finish(ctx, delivery, "success", "")
			log.Printf("✅ Webhook delivered: %s → %s (attempt %d)", event, wh.URL, attempt+1)
			return
		}

		lastErr := fmt.Sprintf("HTTP %d", statusCode)
		if err != nil {
			lastErr = err.Error()
		}
		s.finish(ctx, delivery, "pending", lastErr)
		log.Printf("⚠️  Webhook delivery failed (attempt %d/%d): %s → %s: %s",
			attempt+1, len(s.retryDelays), event, wh.URL, lastErr)
	}

	s.finish(ctx, delivery, "failed", delivery.LastError)
	log.Printf("❌ Webhook delivery failed permanently: %s → %s", event, wh.URL)
}

func (s *Service) finish(ctx context.Context, d *models.WebhookDelivery, status, lastErr string) {
	d.Status = status
	d.LastError = lastErr
	if err := s.store.UpdateWebhookDelivery(ctx, d); err != nil {
		log.Printf("⚠️  Failed to update delivery record: %v", err)
	}
}

// deliver sends a single webhook HTTP request.
func (s *Service) deliver(ctx context.Context, wh models.Webhook, payloadJSON []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payloadJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PDFDeskAPI-Webhook/1.0")
	if wh.Secret != "" {
		req.Header.Set("X-Webhook-Signature", SignPayload(payloadJSON, wh.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
