package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/config"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
)

// WatermillEventPublisher publishes events to any watermill publisher
type WatermillEventPublisher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

func NewWatermillEventPublisher(publisher message.Publisher, topic string, logger *slog.Logger) *WatermillEventPublisher {
	return &WatermillEventPublisher{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// NewEventPublisher returns a Kafka publisher when Kafka is enabled and an
// in-process channel otherwise.
func NewEventPublisher(cfg config.KafkaConfig, logger *slog.Logger) (EventPublisher, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	if !cfg.Enabled {
		logger.Info("Kafka disabled, publishing attempt events in-process")
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		return NewWatermillEventPublisher(pubSub, cfg.Topic, logger), nil
	}

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   cfg.Brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	logger.Info("Kafka event publisher ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return NewWatermillEventPublisher(publisher, cfg.Topic, logger), nil
}

func (p *WatermillEventPublisher) PublishAttemptStarted(ctx context.Context, attempt *models.Attempt) error {
	return p.publish(ctx, TypeAttemptStarted, attempt.ID, attemptStarted(attempt))
}

func (p *WatermillEventPublisher) PublishAttemptSubmitted(ctx context.Context, attempt *models.Attempt) error {
	return p.publish(ctx, TypeAttemptSubmitted, attempt.ID, attemptSubmitted(attempt))
}

func (p *WatermillEventPublisher) publish(ctx context.Context, eventType, key string, data interface{}) error {
	event := Event{
		ID:        watermill.NewUUID(),
		Type:      eventType,
		Source:    EventSource,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", eventType)
	msg.Metadata.Set("partition_key", key)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "Event published", "type", eventType, "event_id", event.ID, "key", key)
	return nil
}

func (p *WatermillEventPublisher) Close() error {
	return p.publisher.Close()
}
