package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/flightline-academy/api/internal/services"
)

// PubSubTransitionNotifier publishes matrix transition events to a Pub/Sub
// topic for downstream notification consumers.
type PubSubTransitionNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.TransitionNotifier = (*PubSubTransitionNotifier)(nil)

// NewPubSubTransitionNotifier constructs a Pub/Sub backed transition notifier.
func NewPubSubTransitionNotifier(topic *pubsub.Topic) (*PubSubTransitionNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub transition notifier: topic is required")
	}
	return &PubSubTransitionNotifier{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// NotifyTransition enqueues the event on the configured topic.
func (p *PubSubTransitionNotifier) NotifyTransition(ctx context.Context, event services.TransitionEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub transition notifier: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transition event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "matrixId", event.MatrixID)
	setAttr(attrs, "departmentId", event.DepartmentID)
	setAttr(attrs, "action", event.Action)
	if event.Succeeded {
		attrs["outcome"] = "success"
	} else {
		attrs["outcome"] = "failure"
		setAttr(attrs, "failureCode", event.FailureCode)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish transition event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
