package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/webgrove/fetchd/internal/events"
	"github.com/webgrove/fetchd/internal/fetchd"
)

// PublisherSink forwards job outcomes to a fetchd.Publisher (Pub/Sub or
// similar) so external dashboards can subscribe without touching the
// dispatcher. Health events stay local.
type PublisherSink struct {
	publisher fetchd.Publisher
	topic     string
}

// NewPublisherSink wires a Publisher to the sink interface.
func NewPublisherSink(publisher fetchd.Publisher, topic string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &PublisherSink{publisher: publisher, topic: topic}, nil
}

// Consume publishes job-scoped events as JSON payloads.
func (s *PublisherSink) Consume(ctx context.Context, evt events.Event) error {
	if evt.Kind != events.KindJobCompleted && evt.Kind != events.KindJobFailed {
		return nil
	}
	payload := map[string]any{
		"kind":      string(evt.Kind),
		"job_id":    evt.Job.ID,
		"target":    evt.Job.Target,
		"retries":   evt.Job.Retries,
		"timestamp": evt.TS.Format(time.RFC3339),
	}
	if evt.Result != nil {
		payload["blob_uri"] = evt.Result.BlobURI
		payload["content_hash"] = evt.Result.ContentHash
		payload["status_code"] = evt.Result.StatusCode
	}
	if evt.ErrorText != "" {
		payload["error"] = evt.ErrorText
	}
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
