// Package notify announces finished pipeline runs to downstream consumers.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher sends a JSON-encodable payload to a topic and returns the broker
// message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// IngestCompleted is published after a scrape run commits its batch.
type IngestCompleted struct {
	RunID      string    `json:"run_id"`
	Categories []string  `json:"categories"`
	Staged     int       `json:"staged"`
	Rejected   int       `json:"rejected"`
	Upserted   int       `json:"upserted"`
	Matched    int       `json:"matched"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// StatisticsComputed is published after an aggregation run is persisted.
type StatisticsComputed struct {
	RunID      string    `json:"run_id"`
	Category   string    `json:"category"`
	Terms      []string  `json:"terms"`
	Sink       string    `json:"sink"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewRunID returns a time-ordered UUIDv7 for correlating a run's events.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Noop discards every message.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, any) (string, error) { return "", nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
