package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// FixedWindow counts hits per key in coarse time windows backed by redis.
// Counts are discarded wholesale at the window edge; bursts across the
// edge are not smoothed.
type FixedWindow struct {
	client *goredis.Client
	limit  int
	window time.Duration
}

func NewFixedWindow(client *goredis.Client, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow reports whether key has budget left in the current window and,
// when it does not, how long until the window resets.
func (l *FixedWindow) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	const op = "ratelimit.Allow"

	now := time.Now()
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, now.UnixNano()/int64(l.window))

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}

	if count.Val() > int64(l.limit) {
		retryAfter := l.window - time.Duration(now.UnixNano())%l.window
		return false, retryAfter, nil
	}

	return true, 0, nil
}
