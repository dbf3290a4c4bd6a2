package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/p2pmodels/committees/pkg/decode"
	"github.com/p2pmodels/committees/pkg/events"
	"github.com/p2pmodels/committees/pkg/redis"
)

// Stream entry fields.
const (
	FieldName    = "name"
	FieldPayload = "payload"
)

// ErrMalformedEntry is returned for stream entries that cannot be turned into a raw event.
var ErrMalformedEntry = errors.New("malformed stream entry")

// StreamConfig configures a Stream.
type StreamConfig struct {
	// Stream is the Redis stream key holding committee events.
	Stream string
	// LastID is where replay starts. Defaults to "0", the beginning of the stream.
	LastID string
}

// Stream reads committee events from a Redis stream. Entries carry the event name and a
// JSON payload object.
type Stream struct {
	client *redis.Client
	cfg    StreamConfig
	logger *zap.Logger
}

func NewStream(client *redis.Client, cfg StreamConfig, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{client: client, cfg: cfg, logger: logger}
}

func (s *Stream) Events(ctx context.Context) (<-chan events.Raw, <-chan error) {
	out := make(chan events.Raw)
	errs := make(chan error, 1)

	consumer, err := redis.NewStreamConsumer(s.client, redis.StreamConsumerConfig{
		Stream: s.cfg.Stream,
		LastID: s.cfg.LastID,
		Logger: s.logger,
	})
	if err != nil {
		errs <- err
		close(errs)
		close(out)
		return out, errs
	}

	go func() {
		defer close(errs)
		defer close(out)
		err := consumer.Run(ctx, func(ctx context.Context, msg redis.Message) error {
			raw, err := DecodeMessage(msg)
			if err != nil {
				// Skipped here; the entry never gets a sequence number.
				s.logger.Warn("skipping malformed stream entry",
					zap.String("stream", msg.Stream),
					zap.String("id", msg.ID),
					zap.Error(err))
				return nil
			}
			select {
			case out <- raw:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errs <- err
		}
	}()
	return out, errs
}

// Append adds an event to the stream. It is the operator path for re-injecting events,
// e.g. a creation whose enrichment failed.
func (s *Stream) Append(ctx context.Context, name string, payload decode.Payload) (string, error) {
	if events.DetectKind(name) == events.KindUnknown {
		return "", fmt.Errorf("%w: unknown event %q", ErrMalformedEntry, name)
	}
	if payload == nil {
		payload = decode.Payload{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return s.client.XAdd(ctx, s.cfg.Stream, map[string]interface{}{
		FieldName:    name,
		FieldPayload: string(body),
	})
}

// DecodeMessage converts a stream entry into a raw event. Numbers in the payload are kept
// as json.Number so uint256 values survive intact.
func DecodeMessage(msg redis.Message) (events.Raw, error) {
	name, ok := msg.String(FieldName)
	if !ok || name == "" {
		return events.Raw{}, fmt.Errorf("%w: %s has no %s", ErrMalformedEntry, msg.ID, FieldName)
	}

	payload := decode.Payload{}
	if body := msg.Bytes(FieldPayload); len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return events.Raw{}, fmt.Errorf("%w: %s payload: %v", ErrMalformedEntry, msg.ID, err)
		}
	}
	return events.Raw{Name: name, Payload: payload, Ref: msg.ID}, nil
}
