package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/drift"
)

// RedisRegimeEventSink fans out regime events over Redis pub/sub so any
// number of external consumers can observe them without coupling to a
// specific transport, adapted from the teacher's RedisRepository.Publish.
type RedisRegimeEventSink struct {
	client  *redis.Client
	channel string
}

// NewRedisRegimeEventSink connects to url and pings it once before
// returning, the same eager-connect pattern as NewRedisRepository.
func NewRedisRegimeEventSink(url, channel string) (*RedisRegimeEventSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("adapters: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("adapters: connect to redis: %w", err)
	}

	return &RedisRegimeEventSink{client: client, channel: channel}, nil
}

func (s *RedisRegimeEventSink) Publish(ctx context.Context, event drift.RegimeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return classify.Wrap(err, "failed to marshal regime event", nil)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return classify.Wrap(err, "failed to publish regime event", nil)
	}
	return nil
}

func (s *RedisRegimeEventSink) Close() error {
	return s.client.Close()
}
