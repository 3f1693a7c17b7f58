package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink appends events to a capped Redis stream for downstream consumers.
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisStreamSink builds a sink writing to stream (default "assist:audit"), trimmed to about maxLen entries.
func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "assist:audit"
	}
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Write(ctx context.Context, ev Event) error {
	meta := "{}"
	if len(ev.Meta) > 0 {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return err
		}
		meta = string(b)
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":         ev.ID.String(),
			"action":     ev.Action,
			"subject_id": ev.SubjectID,
			"ip":         ev.IP,
			"user_agent": ev.UserAgent,
			"meta":       meta,
			"at":         ev.At.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
