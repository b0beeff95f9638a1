package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openreel/publisher-be/internal/video"
	"github.com/openreel/publisher-be/shared/rabbitmq"
)

// Publisher broadcasts domain events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// EventVideoStatus is the type tag of video status events.
const EventVideoStatus = "video.status"

// VideoStatusEvent carries the full current representation of a video so
// consumers never have to call back for state.
type VideoStatusEvent struct {
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Video      *video.Video `json:"video"`
}

// VideoStatusTopic returns the routing key for one owner's video events.
func VideoStatusTopic(owner int64) string {
	return fmt.Sprintf("video.status.%d", owner)
}

// PublishVideoStatus publishes the video's current state on the owner's topic.
func PublishVideoStatus(ctx context.Context, p Publisher, v *video.Video) error {
	return p.Publish(ctx, VideoStatusTopic(v.Owner), VideoStatusEvent{
		Type:       EventVideoStatus,
		OccurredAt: time.Now().UTC(),
		Video:      v,
	})
}

// RabbitMQPublisher publishes events on the shared topic exchange.
type RabbitMQPublisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

func NewRabbitMQPublisher(client *rabbitmq.Client, logger *slog.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		client: client,
		logger: logger,
	}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, topic string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, topic, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish event on %s: %w", topic, err)
	}

	p.logger.Debug("event published", "topic", topic, "bytes", len(body))
	return nil
}

// NopPublisher drops every event. It stands in when no broker is configured
// and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}
