package app

import (
	"context"
	"testing"
	"time"
)

func TestWindowBucket(t *testing.T) {
	base := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name       string
		now        time.Time
		window     time.Duration
		sameAsBase bool
		wantRetry  int
	}{
		{"window start", base, time.Minute, true, 60},
		{"mid window rounds up", base.Add(58*time.Second + 500*time.Millisecond), time.Minute, true, 2},
		{"last instant", base.Add(time.Minute - time.Nanosecond), time.Minute, true, 1},
		{"next window", base.Add(time.Minute), time.Minute, false, 60},
	}
	baseBucket, _ := windowBucket(base, time.Minute)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bucket, retry := windowBucket(tc.now, tc.window)
			if (bucket == baseBucket) != tc.sameAsBase {
				t.Fatalf("bucket %d vs base %d, want same=%t", bucket, baseBucket, tc.sameAsBase)
			}
			if retry != tc.wantRetry {
				t.Fatalf("retry = %d, want %d", retry, tc.wantRetry)
			}
		})
	}
}

func TestRedisRateLimiter_BucketKey(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, " bookings: ")
	if got := limiter.bucketKey("order_create", "renter-1", 42); got != "bookings:order_create:renter-1:42" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRedisRateLimiter_DisabledWithoutClient(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "")
	if limiter.prefix != "rentopia:rate_limit" {
		t.Fatalf("unexpected default prefix %q", limiter.prefix)
	}
	count, retry, err := limiter.ConsumeRateLimit(context.Background(), "order_create", "user", 5, time.Minute)
	if err != nil || count != 0 || retry != 0 {
		t.Fatalf("expected no-op, got %d %d %v", count, retry, err)
	}
}
