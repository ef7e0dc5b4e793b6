// Package redis publishes run completion events on a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/notify"
)

const (
	DefaultChannel = "mangaba:run_completed"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Config configures the Redis publisher.
type Config struct {
	// URL is redis://[:password@]host:port[/db].
	URL     string
	Channel string
	// Timeout bounds each PUBLISH.
	Timeout time.Duration
	Retries int
	Backoff mangaba.Backoff
}

// Publisher sends events with PUBLISH.
type Publisher struct {
	config Config
	client *goredis.Client
}

func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Backoff == nil {
		cfg.Backoff = &mangaba.ExponentialBackoff{Base: 500 * time.Millisecond, Multiplier: 2, Max: 10 * time.Second}
	}

	return &Publisher{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends event as JSON to the configured channel. A channel nobody
// listens on is not an error.
func (p *Publisher) Publish(ctx context.Context, event *notify.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + p.config.Retries
	for i := range attempts {
		if i > 0 {
			timer := time.NewTimer(p.config.Backoff.NextDelay(i - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("redis: canceled during backoff: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(publishCtx, p.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("redis: %w", errors.Join(ctx.Err(), lastErr))
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ notify.Publisher = (*Publisher)(nil)
