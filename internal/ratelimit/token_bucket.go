package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and drains one bucket atomically. Redis server
// time is the only clock used, so every instance sharing the key observes
// the same refill schedule.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  local refill = (delta / 1000) * rate
  tokens = math.min(burst, tokens + refill)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

-- Return: allowed, remaining_tokens, ts (milliseconds)
return {allowed, tokens, ts}
`

// TokenBucket coordinates request pacing across instances through a shared
// redis bucket.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

// Decision is the outcome of one Allow call. RetryAfter is zero when the
// call was allowed.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Allow takes one token from the bucket identified by key. rate is tokens
// per second, burst the bucket capacity.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Decision, error) {
	switch {
	case t == nil || t.client == nil:
		return Decision{}, errors.New("rate limiter not configured")
	case key == "":
		return Decision{}, errors.New("rate limiter key is empty")
	case rate <= 0:
		return Decision{}, errors.New("rate limiter rate must be positive")
	case burst <= 0:
		return Decision{}, errors.New("rate limiter burst must be positive")
	}

	// Script returns [allowed, tokens, ts]. Lua numbers come back as int64,
	// floats occasionally as bulk strings depending on the server version.
	res, err := t.script.Run(
		ctx,
		t.client,
		[]string{key},
		rate,
		burst,
		int64(bucketTTL(rate, burst)/time.Millisecond),
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 3 {
		return Decision{}, errors.New("invalid rate limit script response")
	}

	decision := Decision{
		Allowed:   toInt64(res[0]) == 1,
		Remaining: toFloat64(res[1]),
	}
	if !decision.Allowed {
		// Time until one full token refills.
		if needed := 1.0 - decision.Remaining; needed > 0 {
			decision.RetryAfter = time.Duration(needed / rate * float64(time.Second))
		}
	}
	return decision, nil
}

// bucketTTL keeps idle buckets alive for two full refill windows before
// redis reclaims them.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func toInt64(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
