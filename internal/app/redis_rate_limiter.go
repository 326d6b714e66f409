package app

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts attempts in clock-aligned fixed windows. Every window
// has its own key, so a counter is never reset in place and simply expires.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "rentopia:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: trimmed, now: time.Now}
}

func (r *RedisRateLimiter) bucketKey(scope, subject string, bucket int64) string {
	return r.prefix + ":" + scope + ":" + subject + ":" + strconv.FormatInt(bucket, 10)
}

func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}
	if window < time.Second {
		window = time.Second
	}

	bucket, retryAfter := windowBucket(r.now(), window)
	key := r.bucketKey(scope, subject, bucket)

	var incr *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, window+time.Second)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count %s attempts: %w", scope, err)
	}
	return int(incr.Val()), retryAfter, nil
}

// windowBucket returns the index of the window holding now and the whole
// seconds left until that window closes (at least 1).
func windowBucket(now time.Time, window time.Duration) (int64, int) {
	size := window.Nanoseconds()
	elapsed := now.UnixNano()
	remaining := time.Duration(size - elapsed%size)

	retry := int(math.Ceil(remaining.Seconds()))
	if retry < 1 {
		retry = 1
	}
	return elapsed / size, retry
}
