// Package webhook delivers pool lifecycle notifications to a configured
// HTTP endpoint. Deliveries are signed with HMAC-SHA256 when a secret is
// set so receivers can verify authenticity.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Event types emitted by the pool.
const (
	EventWorkerError          = "worker.error"
	EventWorkerRecovered      = "worker.recovered"
	EventWorkerRecoveryFailed = "worker.recovery_failed"
	EventPoolStarted          = "pool.started"
	EventPoolStopped          = "pool.stopped"
)

// Event is the payload posted to the webhook endpoint.
type Event struct {
	Type      string      `json:"type"`
	WorkerID  string      `json:"worker_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType, workerID string, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		WorkerID:  workerID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}

var client = &http.Client{Timeout: 10 * time.Second}

// Deliver posts the event to url as JSON. When secret is non-empty the
// request carries an X-Xsign-Signature header with the hex HMAC-SHA256
// of the body. A non-2xx response is an error.
func Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Xsign-Webhook/1.0")

	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-Xsign-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

var retryDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}

// DeliverAsync fires the event in a background goroutine with retries.
// Failures are logged, never surfaced to the caller.
func DeliverAsync(url, secret string, event *Event) {
	if url == "" {
		return
	}
	go func() {
		for attempt, delay := range retryDelays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := Deliver(ctx, url, secret, event)
			cancel()
			if err == nil {
				return
			}
			slog.Warn("webhook delivery failed",
				"type", event.Type,
				"worker", event.WorkerID,
				"attempt", attempt+1,
				"error", err)
		}
		slog.Error("webhook delivery abandoned",
			"type", event.Type,
			"worker", event.WorkerID,
			"attempts", len(retryDelays))
	}()
}
