package mangaba

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultPollingInterval = 1 * time.Second
)

type waitOptions struct {
	interval time.Duration
}

// WaitOption is a function that modifies an options struct.
type WaitOption func(*waitOptions) error

// WithPollingInterval sets the interval between attempts.
func WithPollingInterval(interval time.Duration) WaitOption {
	return func(o *waitOptions) error {
		if interval <= 0 {
			return fmt.Errorf("polling interval must be > 0, got %s", interval)
		}
		o.interval = interval
		return nil
	}
}

// WaitReady blocks until the backend reports itself healthy or ctx is done.
// Failed health checks are retried on every tick; the last failure is
// returned with the context error.
func (r *Client) WaitReady(ctx context.Context, opts ...WaitOption) (*Health, error) {
	healthChan, errChan := r.WaitReadyAsync(ctx, opts...)

	var last *Health
	for health := range healthChan {
		last = health
	}

	if err := <-errChan; err != nil {
		return nil, err
	}

	return last, nil
}

// WaitReadyAsync polls the health endpoint and sends every successful
// response on the first channel.
//
// Both channels are closed once the backend is healthy or ctx is done. The
// error channel receives nil on success.
func (r *Client) WaitReadyAsync(ctx context.Context, opts ...WaitOption) (<-chan *Health, <-chan error) {
	healthChan := make(chan *Health)
	errChan := make(chan error, 1)

	options := &waitOptions{
		interval: defaultPollingInterval,
	}

	for _, option := range opts {
		err := option(options)
		if err != nil {
			errChan <- err
			close(healthChan)
			close(errChan)
			return healthChan, errChan
		}
	}

	go func() {
		defer close(errChan)
		defer close(healthChan)

		ticker := time.NewTicker(options.interval)
		defer ticker.Stop()

		var lastErr error
		for {
			health, err := r.Health(ctx)
			if err == nil {
				select {
				case healthChan <- health:
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				}

				if health.OK() {
					errChan <- nil
					return
				}
			} else {
				lastErr = err
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				if lastErr != nil {
					errChan <- fmt.Errorf("backend not ready: %w", errors.Join(ctx.Err(), lastErr))
				} else {
					errChan <- ctx.Err()
				}
				return
			}
		}
	}()

	return healthChan, errChan
}
