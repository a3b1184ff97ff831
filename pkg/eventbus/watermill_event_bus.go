package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/responder/pkg/events"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "event_bus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends event on the shared topic. key becomes the Kafka partition key, so events
// for the same run or alert keep their order.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func newEvent(eventType events.EventType) (any, bool) {
	switch eventType {
	case events.AlertReceivedEvent:
		return &events.AlertReceived{}, true
	case events.ApprovalRequestedEvent:
		return &events.ApprovalRequested{}, true
	case events.ApprovalResolvedEvent:
		return &events.ApprovalResolved{}, true
	case events.WorkflowRunCompletedEvent:
		return &events.WorkflowRunCompleted{}, true
	case events.WorkflowRunFailedEvent:
		return &events.WorkflowRunFailed{}, true
	default:
		return nil, false
	}
}

// Subscribe dispatches messages to the registered handlers until ctx is done. Messages
// without a handler are acked and dropped; handler errors nack the message.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			eb.mu.RLock()
			handler, exists := eb.subscriptions[eventType]
			eb.mu.RUnlock()

			if !exists {
				msg.Ack()

				continue
			}

			event, known := newEvent(eventType)
			if !known {
				eb.logger.WarnContext(ctx, "Unknown event type", "event_type", eventType)
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				eb.logger.ErrorContext(ctx, "Failed to decode event", "event_type", eventType, "error", err)
				msg.Nack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				eb.logger.ErrorContext(ctx, "Event handler failed", "event_type", eventType, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	if _, known := newEvent(eventType); !known {
		return fmt.Errorf("cannot handle unknown event type %q", eventType)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
