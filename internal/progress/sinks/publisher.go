package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/progress"
)

// Publisher sends a payload to a topic and returns the broker's message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// JobNotification is the message published when a job reaches a terminal state.
type JobNotification struct {
	JobID      string    `json:"job_id"`
	OwnerID    string    `json:"owner_id"`
	Target     string    `json:"target,omitempty"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// PublisherSink publishes terminal job events so out-of-process front ends can
// notify owners. Non-terminal events are ignored.
type PublisherSink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink builds a sink that publishes to topic.
func NewPublisherSink(publisher Publisher, topic string, logger *zap.Logger) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}, nil
}

// Consume publishes one notification per terminal event in the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if !evt.Kind.Terminal() {
			continue
		}
		msg := JobNotification{
			JobID:      evt.JobID,
			OwnerID:    evt.OwnerID,
			Target:     evt.Target,
			Status:     resultLabel(evt.Kind),
			Reason:     evt.Reason,
			DeliveryID: evt.DeliveryID,
			FinishedAt: evt.TS,
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.JobID, err))
			continue
		}
		s.logger.Debug("job notification published",
			zap.String("job_id", evt.JobID),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
