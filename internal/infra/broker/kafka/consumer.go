package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer runs one consumer group over the chat topics.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
	logger  *slog.Logger
}

// NewConsumer joins groupID starting from the newest offset, so a fresh group only sees
// events produced after it joined.
func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("kafka: message handler required")
	}
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = logger != nil
	g, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	c := &Consumer{group: g, handler: handler, logger: logger}
	if logger != nil {
		go c.logErrors()
	}
	return c, nil
}

// Run consumes until ctx is cancelled or the group is closed. Rebalances restart the
// session transparently.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	for {
		if err := c.group.Consume(ctx, topics, groupHandler{handler: c.handler, logger: c.logger}); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

func (c *Consumer) logErrors() {
	for err := range c.group.Errors() {
		c.logger.Warn("kafka consumer error", "error", err)
	}
}

type groupHandler struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (h groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.logger != nil {
		h.logger.Debug("kafka session started", "member_id", sess.MemberID(), "generation", sess.GenerationID())
	}
	return nil
}

func (h groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks every message, handled or not, so a malformed event never stalls the
// partition.
func (h groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler.Handle(sess.Context(), message); err != nil && h.logger != nil {
				h.logger.Warn("kafka message handling failed", "topic", message.Topic, "partition", message.Partition, "offset", message.Offset, "error", err)
			}
			sess.MarkMessage(message, "")
		}
	}
}
