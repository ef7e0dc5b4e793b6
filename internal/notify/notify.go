// Package notify publishes a summary of every settled run to downstream
// systems.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/mangaba-ai/mangaba-go"
)

// EventRunCompleted is the only event type published.
const EventRunCompleted = "run_completed"

// RunCompletedEvent is the payload published when a run settles.
type RunCompletedEvent struct {
	EventType  string `json:"event_type"`
	RunID      string `json:"run_id"`
	Goal       string `json:"goal"`
	Status     string `json:"status"`
	Terminal   string `json:"terminal"`
	Error      string `json:"error,omitempty"`
	Frames     int    `json:"frames"`
	DurationMs int64  `json:"duration_ms"`
	// Timestamp is when the run settled, RFC 3339 in UTC.
	Timestamp string `json:"timestamp"`
}

// NewEvent summarizes o.
func NewEvent(o mangaba.Outcome) *RunCompletedEvent {
	settledAt := o.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now()
	}

	return &RunCompletedEvent{
		EventType:  EventRunCompleted,
		RunID:      o.RunID,
		Goal:       o.Goal,
		Status:     o.Status.String(),
		Terminal:   string(o.Terminal),
		Error:      o.Error,
		Frames:     o.Frames,
		DurationMs: o.Duration().Milliseconds(),
		Timestamp:  settledAt.UTC().Format(time.RFC3339),
	}
}

// Publisher delivers run completion events.
type Publisher interface {
	// Publish sends event downstream. It must respect ctx.
	Publish(ctx context.Context, event *RunCompletedEvent) error
	Close() error
}

// Multi fans every event out to several publishers.
type Multi []Publisher

// Publish sends event to every publisher, even after one fails, and joins
// their errors.
func (m Multi) Publish(ctx context.Context, event *RunCompletedEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Publisher = Multi(nil)
