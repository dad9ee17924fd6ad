package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow prunes, records, counts and re-arms the expiry of one key in a
// single server-side step. Scores are milliseconds of the Redis server clock,
// so gateway instances with skewed clocks still share one timeline.
//
// KEYS[1] window key
// ARGV[1] window in ms, ARGV[2] limit, ARGV[3] unique member
// returns {count, retryAfterMs}
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, ARGV[3])
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, window)

local retry = 0
if count > limit then
  local entry = redis.call('ZRANGE', key, count - limit, count - limit, 'WITHSCORES')
  if entry[2] then
    retry = tonumber(entry[2]) + window - now
  end
end
return {count, retry}
`)

type RedisStore struct {
	client redis.Scripter
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient builds a client that honours context deadlines on socket
// reads and writes, so the limiter's store timeout bounds every round trip.
// The socket timeouts are only a ceiling for callers without a deadline.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  addr,
		Password:              password,
		DB:                    db,
		DialTimeout:           time.Second,
		ReadTimeout:           time.Second,
		WriteTimeout:          time.Second,
		ContextTimeoutEnabled: true,
		PoolSize:              50,
		MaxRetries:            1,
	})
}

func (s *RedisStore) Record(ctx context.Context, key string, limit int, window time.Duration) (Usage, error) {
	member := uuid.NewString()
	vals, err := slidingWindow.Run(ctx, s.client, []string{key}, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Usage{}, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	if len(vals) != 2 {
		return Usage{}, fmt.Errorf("ratelimit: unexpected script reply of %d values", len(vals))
	}
	return Usage{
		Count:      vals[0],
		RetryAfter: time.Duration(vals[1]) * time.Millisecond,
	}, nil
}
