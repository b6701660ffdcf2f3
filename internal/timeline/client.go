// Package timeline provides the client for the event timeline service.
// Decision notifications are best effort: failures are logged and absorbed,
// never propagated to the evaluation path.
package timeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aevum/verdict/internal/config"
	"github.com/aevum/verdict/internal/logger"
	"github.com/aevum/verdict/internal/observability"
)

// ingestPath is the timeline ingestion endpoint.
const ingestPath = "/api/v1/events"

// Notifier publishes events to a timeline stream. Implementations must be
// safe for concurrent use.
type Notifier interface {
	// IngestEvent appends one event to a stream. It reports success; it
	// never returns an error because notification is best effort.
	IngestEvent(ctx context.Context, streamID, eventType string, payload any) bool
}

// ingestRequest is the wire format expected by the timeline service.
type ingestRequest struct {
	StreamID  string `json:"stream_id"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload"`
}

// Client is the HTTP Notifier implementation with per-attempt retries and a
// circuit breaker guarding a flapping timeline service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	initial    config.TimelineConfig
	log        *slog.Logger
}

// NewClient creates a timeline client from configuration.
func NewClient(cfg *config.TimelineConfig, log *slog.Logger) *Client {
	if cfg == nil {
		panic("timeline: config cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "timeline",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("timeline circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker:    breaker,
		maxRetries: uint64(cfg.MaxRetries),
		initial:    *cfg,
		log:        log,
	}
}

// IngestEvent posts the event, retrying transient failures with exponential
// backoff. Returns false when every attempt failed or the breaker is open.
func (c *Client) IngestEvent(ctx context.Context, streamID, eventType string, payload any) bool {
	log := logger.FromContext(ctx).With(
		slog.String("stream_id", streamID),
		slog.String("event_type", eventType),
	)

	body, err := json.Marshal(ingestRequest{
		StreamID:  streamID,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		log.Error("failed to marshal timeline event", slog.Any("error", err))
		return false
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initial.InitialBackoff
	policy.MaxInterval = c.initial.MaxBackoff

	attempt := func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.post(ctx, body)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// No point hammering an open breaker with further retries.
			return backoff.Permanent(err)
		}
		return err
	}

	err = backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		log.Warn("timeline notification dropped", slog.Any("error", err))
		observability.TimelineNotificationsTotal.WithLabelValues("dropped").Inc()
		return false
	}

	log.Debug("timeline event ingested")
	observability.TimelineNotificationsTotal.WithLabelValues("delivered").Inc()
	return true
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+ingestPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build timeline request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("timeline request failed: %w", err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("timeline responded with status %d", resp.StatusCode)
	}
	return nil
}

// NoopNotifier drops every event. Used when no timeline endpoint is configured.
type NoopNotifier struct{}

// IngestEvent does nothing and reports success.
func (NoopNotifier) IngestEvent(context.Context, string, string, any) bool { return true }
