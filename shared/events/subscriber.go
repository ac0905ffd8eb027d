package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/patternvault/backend/shared/logging"
)

type Handler func(ctx context.Context, event Event) error

// errMalformed marks entries that can never be handled: bad payloads and
// pending entries whose message was trimmed from the stream.
var errMalformed = errors.New("malformed message")

// groupReader is the part of the Redis client a consumer group member needs.
type groupReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XDel(ctx context.Context, stream string, ids ...string) *redis.IntCmd
}

type Subscriber struct {
	client        groupReader
	log           logging.Logger
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	retryInterval time.Duration
	deleteAcked   bool
	now           func() time.Time
}

type SubscriberConfig struct {
	Group string
	// Consumer must be stable across restarts: pending entries belong to the
	// consumer name they were delivered to.
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// RetryInterval is how often unacknowledged entries are handled again.
	RetryInterval time.Duration
	// DeleteAcked removes entries once handled. Use it on streams with a
	// single group and no length cap, so nothing is trimmed before it is acked.
	DeleteAcked bool
}

func NewSubscriber(client groupReader, log logging.Logger, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 30 * time.Second
	}

	return &Subscriber{
		client:        client,
		log:           log.With("stream", config.Stream, "group", config.Group, "consumer", config.Consumer),
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		retryInterval: config.RetryInterval,
		deleteAcked:   config.DeleteAcked,
		now:           time.Now,
	}
}

// Start blocks until ctx is cancelled. Entries left pending by a failed
// handler, or by a previous run under the same consumer name, are retried on
// start and then every RetryInterval.
func (s *Subscriber) Start(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.log.Info(ctx, "subscriber started")

	var lastRetry time.Time
	for {
		select {
		case <-ctx.Done():
			s.log.Info(context.WithoutCancel(ctx), "subscriber stopping")
			return ctx.Err()
		default:
		}

		if s.now().Sub(lastRetry) >= s.retryInterval {
			if err := s.retryPending(ctx); err != nil && ctx.Err() == nil {
				s.log.Error(ctx, "error retrying pending messages", "error", err)
			}
			lastRetry = s.now()
		}

		if err := s.readMessages(ctx); err != nil && ctx.Err() == nil {
			s.log.Error(ctx, "error reading messages", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// readMessages handles entries never delivered to this group before.
func (s *Subscriber) readMessages(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil // No messages
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		s.handleMessages(ctx, stream.Messages)
	}
	return nil
}

// retryPending walks this consumer's pending entries list once, handling
// every entry again.
func (s *Subscriber) retryPending(ctx context.Context) error {
	after := "0"
	for {
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, after},
			Count:    s.batchSize,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read pending messages: %w", err)
		}

		read := 0
		for _, stream := range streams {
			if len(stream.Messages) == 0 {
				continue
			}
			s.handleMessages(ctx, stream.Messages)
			read += len(stream.Messages)
			after = stream.Messages[len(stream.Messages)-1].ID
		}
		if read == 0 {
			return nil
		}
	}
}

func (s *Subscriber) handleMessages(ctx context.Context, messages []redis.XMessage) {
	for _, message := range messages {
		if err := s.processMessage(ctx, message); err != nil {
			if !errors.Is(err, errMalformed) {
				s.log.Error(ctx, "failed to process message", "message_id", message.ID, "error", err)
				// Stays pending for retryPending.
				continue
			}
			s.log.Warn(ctx, "dropping malformed message", "message_id", message.ID, "error", err)
		}

		if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
			s.log.Warn(ctx, "failed to ack message", "message_id", message.ID, "error", err)
			continue
		}
		if s.deleteAcked {
			if err := s.client.XDel(ctx, s.stream, message.ID).Err(); err != nil {
				s.log.Warn(ctx, "failed to delete message", "message_id", message.ID, "error", err)
			}
		}
	}
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("%w: no event field", errMalformed)
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	return s.handler(ctx, event)
}
