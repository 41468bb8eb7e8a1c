package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/tayteboss/bfl/internal/domain"
)

// PubSubForwarder republishes bus notifications to a Google Pub/Sub topic so off-page consumers
// (analytics, fulfilment) see cart activity.
type PubSubForwarder struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewPubSubForwarder constructs a forwarder for topic.
func NewPubSubForwarder(topic *pubsub.Topic, logger func(context.Context, string, map[string]any)) (*PubSubForwarder, error) {
	if topic == nil {
		return nil, errors.New("pubsub forwarder: topic is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PubSubForwarder{topic: topic, marshal: json.Marshal, logger: logger}, nil
}

// Attach subscribes the forwarder to bus and returns a function detaching it.
func (f *PubSubForwarder) Attach(bus *Bus) func() {
	offUpdated := bus.SubscribeCartUpdated(func(ctx context.Context, evt domain.CartUpdatedEvent) {
		if _, err := f.ForwardCartUpdated(ctx, evt); err != nil {
			f.logger(ctx, "event_forward_failed", map[string]any{"topic": TopicCartUpdated, "error": err.Error()})
		}
	})
	offError := bus.SubscribeCartError(func(ctx context.Context, evt domain.CartErrorEvent) {
		if _, err := f.ForwardCartError(ctx, evt); err != nil {
			f.logger(ctx, "event_forward_failed", map[string]any{"topic": TopicCartError, "error": err.Error()})
		}
	})
	return func() {
		offUpdated()
		offError()
	}
}

// ForwardCartUpdated publishes evt and returns the server-assigned message id.
func (f *PubSubForwarder) ForwardCartUpdated(ctx context.Context, evt domain.CartUpdatedEvent) (string, error) {
	attrs := map[string]string{"type": TopicCartUpdated}
	setAttr(attrs, "source", evt.Source)
	if evt.VariantID > 0 {
		attrs["variantId"] = strconv.FormatInt(evt.VariantID, 10)
	}
	attrs["itemCount"] = strconv.Itoa(evt.CartData.ItemCount)
	return f.publish(ctx, evt, attrs)
}

// ForwardCartError publishes evt and returns the server-assigned message id.
func (f *PubSubForwarder) ForwardCartError(ctx context.Context, evt domain.CartErrorEvent) (string, error) {
	attrs := map[string]string{"type": TopicCartError}
	setAttr(attrs, "source", evt.Source)
	if evt.VariantID > 0 {
		attrs["variantId"] = strconv.FormatInt(evt.VariantID, 10)
	}
	return f.publish(ctx, evt, attrs)
}

func (f *PubSubForwarder) publish(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	if f == nil || f.topic == nil {
		return "", errors.New("pubsub forwarder: not initialised")
	}
	data, err := f.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", attrs["type"], err)
	}
	result := f.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", attrs["type"], err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
