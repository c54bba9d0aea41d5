package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps the durable stream via XADD MAXLEN ~.
const streamMaxLen int64 = 100000

// RedisPublisher pushes every envelope to a Redis Pub/Sub channel for live
// consumers and appends it to a Redis Stream so the metadata cache can
// replay anything it missed. An empty channel or stream name disables that
// half.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	stream  string
}

// NewRedisPublisher creates a publisher writing to channel and stream.
func NewRedisPublisher(rdb *redis.Client, channel, stream string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel, stream: stream}
}

func (p *RedisPublisher) Publish(ctx context.Context, envs ...Envelope) {
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			slog.Error("event encode failed", "kind", env.Kind, "err", err)
			continue
		}

		if p.stream != "" {
			err = p.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: p.stream,
				MaxLen: streamMaxLen,
				Approx: true,
				Values: map[string]any{
					"id":     env.ID,
					"kind":   string(env.Kind),
					"source": env.Source.Hex(),
					"data":   data,
				},
			}).Err()
			if err != nil {
				slog.Warn("event stream append failed", "kind", env.Kind, "stream", p.stream, "err", err)
			}
		}

		if p.channel != "" {
			if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
				slog.Warn("event publish failed", "kind", env.Kind, "channel", p.channel, "err", err)
			}
		}
	}
}
