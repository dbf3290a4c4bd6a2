package redis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	// Stream is the Redis stream name to consume from (required).
	Stream string

	// Group is the consumer group name. Empty means a plain XREAD consumer.
	Group string

	// Consumer is the consumer name within the group. Required if Group is set.
	Consumer string

	// LastID is the starting position for plain consumers:
	//   - "0" = replay from the beginning
	//   - "$" = read only new entries
	//   - "<id>" = read after a specific ID (e.g., "1234567890123-0")
	// Default: "0"
	LastID string

	// Count is the max number of entries to read per batch. Default: 100.
	Count int64

	// Block is how long to wait for new entries. Default: 5 seconds.
	Block time.Duration

	// RetryInterval is the initial wait after a read error. Default: 1 second.
	RetryInterval time.Duration

	// MaxRetryInterval caps the exponential backoff. Default: 30 seconds.
	MaxRetryInterval time.Duration

	// Logger for logging. If nil, uses a no-op logger.
	Logger *zap.Logger
}

// MessageHandler processes a stream entry. Entries are handed over one at a time in
// stream order. A nil return acknowledges the entry in group mode.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is a single stream entry.
type Message struct {
	// ID is the Redis stream entry ID (e.g., "1234567890123-0").
	ID string

	// Stream is the stream name this message came from.
	Stream string

	// Values contains the entry fields as key-value pairs.
	Values map[string]interface{}
}

// String returns a field as a string; Redis returns every field value as a string.
func (m *Message) String(field string) (string, bool) {
	switch v := m.Values[field].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// Bytes returns a field's raw bytes, or nil when absent.
func (m *Message) Bytes(field string) []byte {
	if s, ok := m.String(field); ok {
		return []byte(s)
	}
	return nil
}

// StreamConsumer reads a Redis stream in order with automatic reconnection.
type StreamConsumer struct {
	client *Client
	config StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer creates a new stream consumer.
func NewStreamConsumer(client *Client, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group != "" && config.Consumer == "" {
		return nil, errors.New("consumer name is required when using consumer groups")
	}

	if config.LastID == "" {
		config.LastID = "0"
	}
	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 1 * time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamConsumer{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Run reads entries and calls handler for each one. Blocks until ctx is cancelled or
// handler returns an error, which stops the consumer: skipping an entry would break
// the ordering downstream consumers rely on.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	if sc.config.Group != "" {
		if err := sc.client.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "0"); err != nil {
			return err
		}
		sc.logger.Info("Consumer group ready",
			zap.String("stream", sc.config.Stream),
			zap.String("group", sc.config.Group),
			zap.String("consumer", sc.config.Consumer))
	}

	lastID := sc.config.LastID
	if sc.config.Group != "" {
		// Pending entries first, then new ones.
		lastID = "0"
	}
	retryInterval := sc.config.RetryInterval

	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("Stream consumer shutting down",
				zap.String("stream", sc.config.Stream),
				zap.String("lastId", lastID))
			return ctx.Err()
		default:
		}

		messages, err := sc.readMessages(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if IsNil(err) {
				continue
			}

			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))

			select {
			case <-time.After(retryInterval):
				retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retryInterval = sc.config.RetryInterval

		if sc.config.Group != "" && len(messages) == 0 && lastID != ">" {
			// Pending backlog drained.
			lastID = ">"
			continue
		}

		for _, msg := range messages {
			if err := handler(ctx, msg); err != nil {
				return err
			}
			sc.ack(ctx, msg)
			if sc.config.Group == "" || lastID != ">" {
				lastID = msg.ID
			}
		}
	}
}

func (sc *StreamConsumer) readMessages(ctx context.Context, lastID string) ([]Message, error) {
	var (
		streams []XStream
		err     error
	)
	if sc.config.Group != "" {
		streams, err = sc.client.XReadGroup(ctx, sc.config.Group, sc.config.Consumer, sc.config.Stream, lastID, sc.config.Count, sc.config.Block)
	} else {
		streams, err = sc.client.XRead(ctx, sc.config.Stream, lastID, sc.config.Count, sc.config.Block)
	}
	if err != nil {
		return nil, err
	}

	var messages []Message
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			messages = append(messages, Message{
				ID:     xmsg.ID,
				Stream: stream.Stream,
				Values: xmsg.Values,
			})
		}
	}
	return messages, nil
}

func (sc *StreamConsumer) ack(ctx context.Context, msg Message) {
	if sc.config.Group == "" {
		return
	}
	if _, err := sc.client.XAck(ctx, sc.config.Stream, sc.config.Group, msg.ID); err != nil {
		sc.logger.Warn("Failed to acknowledge message",
			zap.String("stream", sc.config.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
	}
}
