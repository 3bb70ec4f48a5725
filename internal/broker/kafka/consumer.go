package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	newR    func() messageReader
	topic   string
	groupID string
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	newR := func() messageReader { return kafka.NewReader(cfg) }
	return &Consumer{r: newR(), newR: newR, topic: topic, groupID: groupID}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every message to handler and commits it only after handler succeeds.
// The first handler error stops consumption.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// Run keeps consuming until ctx is done. After a failure the reader is reopened,
// so the uncommitted message is fetched again from the group's committed offset.
func (c *Consumer) Run(ctx context.Context, handler func(key, value []byte) error, pause time.Duration) error {
	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("kafka consumer stopped, restarting", "topic", c.topic, "group", c.groupID, "error", err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}

		if c.newR != nil {
			_ = c.r.Close()
			c.r = c.newR()
		}
	}
}
