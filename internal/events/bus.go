// Package events fans persisted turns out to in-process subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ashureev/chat-relay/internal/domain"
)

// TopicTurns carries one message per stored turn.
const TopicTurns = "chat.turns"

// Bus publishes and subscribes to turn events over an in-memory pub/sub.
type Bus struct {
	pubsub     *gochannel.GoChannel
	logger     *slog.Logger
	bufferSize int
}

// NewBus creates a bus. bufferSize bounds each subscriber's pending turns;
// a subscriber that falls further behind misses turns rather than stalling
// publishers.
//
// Publish waits for every subscriber to take the message, so each subscriber
// sees turns in the order they were published.
func NewBus(logger *slog.Logger, bufferSize int64) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NewSlogLogger(logger))

	return &Bus{pubsub: pubsub, logger: logger, bufferSize: int(bufferSize)}
}

// PublishTurn announces a stored turn.
func (b *Bus) PublishTurn(turn domain.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("author", string(turn.Author))
	if err := b.pubsub.Publish(TopicTurns, msg); err != nil {
		return fmt.Errorf("publish turn %d: %w", turn.ID, err)
	}
	return nil
}

// SubscribeTurns returns a channel of turns published after the call, in
// publish order. The channel is closed when ctx is done or the bus is closed.
func (b *Bus) SubscribeTurns(ctx context.Context) (<-chan domain.Turn, error) {
	messages, err := b.pubsub.Subscribe(ctx, TopicTurns)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", TopicTurns, err)
	}

	out := make(chan domain.Turn, b.bufferSize)
	go func() {
		defer close(out)
		for msg := range messages {
			var turn domain.Turn
			if err := json.Unmarshal(msg.Payload, &turn); err != nil {
				b.logger.Warn("Dropping undecodable turn event", "message_uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			// Ack once buffered so the next publish is not held up by a slow reader.
			select {
			case out <- turn:
			case <-ctx.Done():
				msg.Nack()
				return
			default:
				b.logger.Warn("Subscriber buffer full, dropping turn", "turn_id", turn.ID)
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close stops the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
