package cache

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel other replicas listen on to drop
// their local copies.
const DefaultChannel = "kart:invalidate"

var _ Invalidator = (*Redis)(nil)

// Redis deletes keys from a shared Redis cache and announces them on a
// pub/sub channel.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis returns a Redis invalidator. An empty channel selects
// DefaultChannel.
func NewRedis(client redis.UniversalClient, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// Invalidate deletes keys and publishes them, space separated, in one
// pipeline round trip.
func (r *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		p.Publish(ctx, r.channel, strings.Join(keys, " "))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "invalidate keys")
	}
	return nil
}
