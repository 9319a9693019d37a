package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript performs the refill-check-consume cycle atomically on the
// Redis side. ARGV[4] is 1 to consume a token, 0 to only peek.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * refill_rate)

local allowed = 0
if consume == 1 then
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, 3600)
return {allowed, tostring(tokens)}
`)

// RedisStore shares rate limit state across gateway replicas. Bucket state is
// a Redis hash per key, mutated atomically by a Lua script.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, prefix: "ratelimit:"}, nil
}

// Allow checks and consumes one token for the key.
func (s *RedisStore) Allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	allowed, remaining, err := s.run(ctx, key, capacity, refillRate, true)
	return allowed, remaining, err
}

// Remaining returns the tokens currently available for the key.
func (s *RedisStore) Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error) {
	_, remaining, err := s.run(ctx, key, capacity, refillRate, false)
	return remaining, err
}

// Reset deletes the key's bucket; the next request sees a full bucket.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) run(ctx context.Context, key string, capacity, refillRate float64, consume bool) (bool, float64, error) {
	consumeArg := 0
	if consume {
		consumeArg = 1
	}
	now := float64(time.Now().UnixMilli()) / 1000.0
	res, err := tokenBucketScript.Run(ctx, s.client,
		[]string{s.prefix + key}, capacity, refillRate, now, consumeArg).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected script result %v", res)
	}
	allowed, _ := values[0].(int64)
	var remaining float64
	if str, ok := values[1].(string); ok {
		_, _ = fmt.Sscanf(str, "%f", &remaining)
	}
	return allowed == 1, remaining, nil
}
