package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// boundedIncr increments KEYS[1] only while it is below ARGV[1]. It returns
// {ok, value}. A missing key counts as zero.
var boundedIncr = redis.NewScript(`
	local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
	if cur == nil then
		return redis.error_reply('value is not an integer')
	end
	local limit = tonumber(ARGV[1])
	if cur >= limit then
		return { 0, cur }
	end
	cur = cur + 1
	redis.call('SET', KEYS[1], cur)
	return { 1, cur }
`)

// Redis is a Store backed by a go-redis client.
type Redis struct {
	rdb redis.UniversalClient
}

// NewRedis wraps an existing client. The client is not closed by Redis.
func NewRedis(rdb redis.UniversalClient) *Redis { return &Redis{rdb: rdb} }

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (r *Redis) IncrementIfBelow(ctx context.Context, key string, limit int64) (int64, bool, error) {
	vals, err := boundedIncr.Run(ctx, r.rdb, []string{key}, limit).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("%w: incr %s: %v", ErrUnavailable, key, err)
	}
	if len(vals) != 2 {
		return 0, false, fmt.Errorf("%w: incr %s: unexpected script result %v", ErrUnavailable, key, vals)
	}
	return vals[1], vals[0] == 1, nil
}
