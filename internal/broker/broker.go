// Package broker carries verification traffic over Kafka. Two topics, one
// per direction; records are keyed by discordID:guildID so everything for
// one (user, guild) pair lands on one partition and is consumed in order.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher produces JSON records to a single topic.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewPublisher connects a producer for the given topic.
func NewPublisher(seeds []string, topic string, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Publish marshals payload and produces it synchronously under key. The
// synchronous produce is what makes "published" mean "durably queued".
func (p *Publisher) Publish(ctx context.Context, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", p.topic, err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "message-id", Value: []byte(uuid.NewString())},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	p.logger.Debug("published", "topic", p.topic, "key", key)
	return nil
}

func (p *Publisher) Close() { p.client.Close() }

// Handler processes one record payload. Returning nil acknowledges the
// record (its offset becomes committable); returning an error stops the
// consume pass with that record uncommitted, so the broker redelivers it.
// Handlers that cannot ever succeed (malformed payloads) must log and
// return nil instead of wedging the partition.
type Handler func(ctx context.Context, payload []byte) error

// Consumer reads one topic in a consumer group with manual commits.
type Consumer struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewConsumer joins group on topic. Auto-commit is disabled; offsets are
// committed only for handled records.
func NewConsumer(seeds []string, group, topic string, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	return &Consumer{client: client, topic: topic, logger: logger}, nil
}

// Run polls until ctx is cancelled, invoking handle per record in delivery
// order. On a handler error the records handled so far are committed and
// the error is returned; the caller restarts the consumer and the failed
// record is redelivered (at-least-once).
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var handled []*kgo.Record
		var handleErr error
		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			if err := handle(ctx, rec.Value); err != nil {
				handleErr = fmt.Errorf("handle record on %s: %w", c.topic, err)
				break
			}
			handled = append(handled, rec)
		}

		if len(handled) > 0 {
			if err := c.client.CommitRecords(ctx, handled...); err != nil {
				c.logger.Error("commit failed", "topic", c.topic, "error", err)
			}
		}
		if handleErr != nil {
			return handleErr
		}
	}
}

func (c *Consumer) Close() { c.client.Close() }
