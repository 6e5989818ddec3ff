package events

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream holding register events.
const DefaultStream = "pos:events"

// RedisStreamStore appends events to a capped Redis stream.
type RedisStreamStore struct {
	R      *redis.Client
	Stream string
	MaxLen int64
}

// Append implements EventStore.
func (s RedisStreamStore) Append(ctx context.Context, event Event) error {
	if s.R == nil {
		return errors.New("events: redis client not configured")
	}
	stream := s.Stream
	if stream == "" {
		stream = DefaultStream
	}
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	err := s.R.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"id":           event.ID.String(),
			"topic":        event.Topic,
			"aggregate_id": event.AggregateID.String(),
			"payload":      string(event.Payload),
			"occurred_at":  event.OccurredAt.Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// MemoryStore keeps events in memory; used when Redis is not configured.
type MemoryStore struct {
	Events []Event
}

// Append implements EventStore.
func (m *MemoryStore) Append(_ context.Context, event Event) error {
	m.Events = append(m.Events, event)
	return nil
}
