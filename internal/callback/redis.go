package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream RedisStreamSink publishes to when none is set.
const DefaultStream = "bulkq:results"

// RedisStreamSink publishes result events to a Redis stream so consumers in
// other processes can pick them up with XREAD or a consumer group.
type RedisStreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

var _ EventSink = (*RedisStreamSink)(nil)

// NewRedisStreamSink creates a sink writing to stream. A positive maxLen
// trims the stream approximately to that many entries.
func NewRedisStreamSink(client redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Handle appends the event with XADD.
func (s *RedisStreamSink) Handle(ctx context.Context, ev Event) error {
	values, err := streamValues(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func streamValues(ev Event) (map[string]any, error) {
	values := map[string]any{
		"entry_id":   ev.EntryID,
		"kind":       string(ev.Kind),
		"region":     ev.Region,
		"account_id": ev.AccountID,
		"result_id":  ev.ResultID,
		"work_type":  ev.WorkType,
		"size":       strconv.Itoa(len(ev.Content)),
		"content":    ev.Content,
	}
	if len(ev.Context) > 0 {
		raw, err := json.Marshal(ev.Context)
		if err != nil {
			return nil, fmt.Errorf("marshal event context: %w", err)
		}
		values["context"] = string(raw)
	}
	return values, nil
}
