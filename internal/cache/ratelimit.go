package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitPrefix is the Redis key prefix for per-client rate limits.
const rateLimitPrefix = "ratelimit:ip:"

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// fixedWindowScript implements an atomic fixed-window counter: the first
// request in a window sets the expiry, later requests only increment.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local max = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])  -- seconds

	local count = redis.call('INCR', key)
	if count == 1 then
		redis.call('EXPIRE', key, window)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if count > max then
		return {0, 0, ttl}
	end
	return {1, max - count, ttl}
`)

// CheckRateLimit checks and updates the fixed-window rate limit for a
// client key (an IP address). The IP is hashed before use as a key.
// Fails open on Redis errors so a cache outage never blocks traffic.
func (c *Cache) CheckRateLimit(ctx context.Context, ip string, max int, window time.Duration) (*RateLimitResult, error) {
	key := rateLimitPrefix + hashIP(ip)

	result, err := fixedWindowScript.Run(ctx, c.client,
		[]string{key},
		max, int(window.Seconds()),
	).Int64Slice()
	if err != nil {
		return &RateLimitResult{Allowed: true, Remaining: int64(max)}, nil
	}

	return &RateLimitResult{
		Allowed:    result[0] == 1,
		Remaining:  result[1],
		RetryAfter: time.Duration(result[2]) * time.Second,
	}, nil
}

// hashIP creates a truncated SHA256 hash of an IP address so raw
// addresses are never stored.
func hashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(hash[:8])
}
