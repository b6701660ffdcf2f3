package config

import (
	"fmt"
	"time"
)

// TimelineConfig configures the event timeline client. Notification is
// best effort; an empty BaseURL disables it entirely.
type TimelineConfig struct {
	BaseURL string `envconfig:"BASE_URL"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s"`

	// Retry settings for a single notification attempt.
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	InitialBackoff time.Duration `envconfig:"INITIAL_BACKOFF" default:"100ms"`
	MaxBackoff     time.Duration `envconfig:"MAX_BACKOFF" default:"2s"`

	// Circuit breaker settings; the breaker opens after this many
	// consecutive failures and probes again after the open interval.
	BreakerFailures uint32        `envconfig:"BREAKER_FAILURES" default:"5" validate:"min=1"`
	BreakerInterval time.Duration `envconfig:"BREAKER_INTERVAL" default:"30s"`
}

// IsConfigured returns true when a timeline endpoint has been set.
func (c *TimelineConfig) IsConfigured() bool {
	return c.BaseURL != ""
}

// Validate checks the timeline configuration. A blank BaseURL is valid and
// means notifications are disabled.
func (c *TimelineConfig) Validate() error {
	if c.BaseURL == "" {
		return nil
	}

	if _, err := parseAndValidateURL(c.BaseURL, []string{"http", "https"}); err != nil {
		return fmt.Errorf("invalid timeline URL: %w", err)
	}

	if c.InitialBackoff > c.MaxBackoff {
		return fmt.Errorf("timeline initial_backoff (%s) cannot be greater than max_backoff (%s)",
			c.InitialBackoff, c.MaxBackoff)
	}

	return nil
}
