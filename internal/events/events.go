// Package events publishes domain events (ride and pre-booking transitions) to Kafka.
// Publishing is best-effort: callers log failures and never roll back on them.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Event struct {
	Type        string            `json:"type"`
	AggregateID string            `json:"aggregate_id"`
	ActorType   string            `json:"actor_type,omitempty"`
	ActorID     string            `json:"actor_id,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.log.WithFields(logrus.Fields{
		"event":        e.Type,
		"aggregate_id": e.AggregateID,
		"actor_type":   e.ActorType,
		"actor_id":     e.ActorID,
	}).Debug("domain event")
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
