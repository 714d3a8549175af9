// Package settings holds per-organisation configuration: outbound webhooks,
// report branding and subscription quotas.
package settings

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compliscope/compliscope/internal/kv"
)

const webhooksKey = "webhooks"

const (
	SignatureHeader = "X-Compliscope-Signature"
	EventHeader     = "X-Compliscope-Event"
)

type Event string

const (
	EventAll                 Event = "*"
	EventReportCreated       Event = "report.created"
	EventReportDeleted       Event = "report.deleted"
	EventSimulationCompleted Event = "simulation.completed"
	EventScanCompleted       Event = "scan.completed"
)

func (e Event) Valid() bool {
	switch e {
	case EventAll, EventReportCreated, EventReportDeleted, EventSimulationCompleted, EventScanCompleted:
		return true
	}
	return false
}

type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []Event   `json:"events"`
	Secret    string    `json:"secret,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func (w Webhook) subscribed(e Event) bool {
	for _, ev := range w.Events {
		if ev == EventAll || ev == e {
			return true
		}
	}
	return false
}

var (
	ErrInvalidWebhook  = errors.New("invalid webhook")
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrNotInitialized  = errors.New("webhook store is not initialized")
)

// Delivery is the outcome of posting one event to one webhook.
type Delivery struct {
	WebhookID  string `json:"webhookId"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WebhookStore caches the webhook list in memory. Init loads the cache and
// Reset drops it; every other method requires a prior Init.
type WebhookStore struct {
	doc    *kv.JSON[[]Webhook]
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache []Webhook
	ready bool
}

func NewWebhookStore(repo kv.Repository, logger *slog.Logger) *WebhookStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookStore{
		doc:    kv.NewJSON[[]Webhook](repo, webhooksKey),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		now:    time.Now,
	}
}

func (s *WebhookStore) Init(ctx context.Context) error {
	hooks, _, err := s.doc.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading webhooks: %w", err)
	}

	s.mu.Lock()
	s.cache = hooks
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *WebhookStore) Reset() {
	s.mu.Lock()
	s.cache = nil
	s.ready = false
	s.mu.Unlock()
}

func (s *WebhookStore) List() ([]Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return nil, ErrNotInitialized
	}
	out := make([]Webhook, len(s.cache))
	for i, w := range s.cache {
		w.Secret = ""
		out[i] = w
	}
	return out, nil
}

func (s *WebhookStore) Add(ctx context.Context, rawURL string, events []Event, secret string) (Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Webhook{}, fmt.Errorf("%w: url must be an absolute http(s) url", ErrInvalidWebhook)
	}
	if len(events) == 0 {
		events = []Event{EventAll}
	}
	for _, e := range events {
		if !e.Valid() {
			return Webhook{}, fmt.Errorf("%w: unknown event %q", ErrInvalidWebhook, e)
		}
	}

	hook := Webhook{
		ID:        uuid.NewString(),
		URL:       u.String(),
		Events:    events,
		Secret:    secret,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return Webhook{}, ErrNotInitialized
	}

	next := append(append([]Webhook{}, s.cache...), hook)
	if err := s.doc.Save(ctx, next); err != nil {
		return Webhook{}, fmt.Errorf("saving webhooks: %w", err)
	}
	s.cache = next

	hook.Secret = ""
	return hook, nil
}

func (s *WebhookStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotInitialized
	}

	next := make([]Webhook, 0, len(s.cache))
	for _, w := range s.cache {
		if w.ID != id {
			next = append(next, w)
		}
	}
	if len(next) == len(s.cache) {
		return ErrWebhookNotFound
	}
	if err := s.doc.Save(ctx, next); err != nil {
		return fmt.Errorf("saving webhooks: %w", err)
	}
	s.cache = next
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret, prefixed "sha256=".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

type envelope struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Dispatch posts event to every active webhook subscribed to it. Individual
// delivery failures are reported in the result, not as an error.
func (s *WebhookStore) Dispatch(ctx context.Context, event Event, data any) ([]Delivery, error) {
	s.mu.RLock()
	if !s.ready {
		s.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	var targets []Webhook
	for _, w := range s.cache {
		if w.Active && w.subscribed(event) {
			targets = append(targets, w)
		}
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		return []Delivery{}, nil
	}

	body, err := json.Marshal(envelope{Event: event, Timestamp: s.now().UTC(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}

	deliveries := make([]Delivery, len(targets))
	var wg sync.WaitGroup
	for i, w := range targets {
		wg.Add(1)
		go func(i int, w Webhook) {
			defer wg.Done()
			deliveries[i] = s.post(ctx, w, event, body)
		}(i, w)
	}
	wg.Wait()
	return deliveries, nil
}

func (s *WebhookStore) post(ctx context.Context, w Webhook, event Event, body []byte) Delivery {
	d := Delivery{WebhookID: w.ID}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(event))
	if w.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.Secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		d.Error = err.Error()
		s.logger.Warn("webhook delivery failed", "webhook_id", w.ID, "event", event, "error", err)
		return d
	}
	resp.Body.Close()

	d.StatusCode = resp.StatusCode
	if resp.StatusCode >= 300 {
		d.Error = fmt.Sprintf("webhook returned status %d", resp.StatusCode)
		s.logger.Warn("webhook rejected delivery", "webhook_id", w.ID, "event", event, "status", resp.StatusCode)
	}
	return d
}
