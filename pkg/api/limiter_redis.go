package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// replicatedBucketScript refills and drains one actor's bucket in a single
// atomic step so concurrent replicas never double-spend tokens. Bucket state
// lives in a hash: "bal" is the token balance, "seen" the unix time of the
// last visit. Idle buckets expire once a full refill has certainly happened.
var replicatedBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local bal = tonumber(redis.call("HGET", key, "bal"))
local seen = tonumber(redis.call("HGET", key, "seen"))
if bal == nil or seen == nil then
  bal = cap
  seen = now
end

bal = math.min(cap, bal + (now - seen) * rate)

local verdict = 0
if bal >= cost then
  bal = bal - cost
  verdict = 1
end

redis.call("HSET", key, "bal", bal, "seen", now)
redis.call("EXPIRE", key, math.ceil(cap / rate) + 60)
return verdict
`)

// RedisLimiterStore shares rate-limit buckets across service replicas.
type RedisLimiterStore struct {
	client *redis.Client
}

// NewRedisLimiterStore connects using a redis:// URL.
func NewRedisLimiterStore(url string) (*RedisLimiterStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisLimiterStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisLimiterStore) Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error) {
	rate := float64(policy.RPM) / 60.0
	if rate <= 0 {
		rate = 1
	}

	verdict, err := replicatedBucketScript.Run(ctx, s.client,
		[]string{"sponsord:rl:" + actorID},
		rate, policy.Burst, cost, time.Now().Unix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return verdict == 1, nil
}
