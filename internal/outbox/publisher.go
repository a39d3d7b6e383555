package outbox

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"cloud.google.com/go/pubsub"
)

// LogPublisher records events on the logger instead of a broker. It keeps
// development environments working without Pub/Sub credentials.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event and reports success.
func (p *LogPublisher) Publish(_ context.Context, evt Event) (string, error) {
	if p.logger != nil {
		p.logger.Info("integration event",
			slog.Int64("event_id", evt.ID),
			slog.Int64("company_id", evt.CompanyID),
			slog.String("topic", evt.Topic),
			slog.String("correlation_id", evt.CorrelationID.String()),
			slog.String("payload", string(evt.Payload)))
	}
	return "log-" + strconv.FormatInt(evt.ID, 10), nil
}

// PubSubPublisher delivers events to one Google Cloud Pub/Sub topic. The
// engine topic name travels as a message attribute so a single broker topic
// can fan out to consumers.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher constructs PubSubPublisher over an existing client.
func NewPubSubPublisher(client *pubsub.Client, topic string) (*PubSubPublisher, error) {
	if client == nil {
		return nil, errors.New("outbox: pubsub client required")
	}
	if topic == "" {
		return nil, errors.New("outbox: pubsub topic required")
	}
	return &PubSubPublisher{topic: client.Topic(topic)}, nil
}

// Publish sends the event payload and waits for the server-assigned id.
func (p *PubSubPublisher) Publish(ctx context.Context, evt Event) (string, error) {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: evt.Payload,
		Attributes: map[string]string{
			"topic":          evt.Topic,
			"company_id":     strconv.FormatInt(evt.CompanyID, 10),
			"correlation_id": evt.CorrelationID.String(),
		},
	})
	return result.Get(ctx)
}

// Stop flushes buffered messages; call it during shutdown.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
