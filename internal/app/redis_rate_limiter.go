package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "zapin:rate_limit"

// Fixed-window counter: the first hit in a window arms the expiry; every hit
// returns the running count and the remaining window in milliseconds.
var invoiceRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisInvoiceRateLimiter caps invoice creation per client across all
// instances sharing the Redis backend.
type RedisInvoiceRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisInvoiceRateLimiter(client redis.UniversalClient, prefix string) *RedisInvoiceRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisInvoiceRateLimiter{client: client, prefix: prefix}
}

// ConsumeRateLimit increments the counter for scope/subject and reports the
// count within the current window plus the seconds until the window resets.
// A nil limiter, blank key parts, or a non-positive limit disable enforcement.
func (r *RedisInvoiceRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	values, err := invoiceRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected limiter reply length %d", len(values))
	}

	retryAfter := int(math.Ceil(float64(values[1]) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(values[0]), retryAfter, nil
}
