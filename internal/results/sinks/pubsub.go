package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/verwatch/verwatch/internal/check"
)

// PubSubSink publishes results to a Google Cloud Pub/Sub topic so downstream
// systems can react to version changes without polling the repository.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps an existing topic handle.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// Consume marshals the result to JSON and publishes it, blocking until the
// server acknowledges or ctx expires.
func (s *PubSubSink) Consume(ctx context.Context, result check.Result) error {
	if s == nil || s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", result.Key(), err)
	}
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"package": result.PackageID,
			"source":  result.SourceKind,
			"outcome": outcome,
		},
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish result %s: %w", result.Key(), err)
	}
	return nil
}

// Close flushes any batched messages and detaches from the topic.
func (s *PubSubSink) Close(context.Context) error {
	if s != nil && s.topic != nil {
		s.topic.Stop()
	}
	return nil
}
