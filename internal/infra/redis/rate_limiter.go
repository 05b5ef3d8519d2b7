package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter counts hits per key in fixed windows aligned to the clock. Each window gets its
// own counter key, so a lost EXPIRE can never pin a caller at the limit.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// WithClock replaces the window clock.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.now = now
	return r
}

// Allow records one hit and reports whether it is within limit for the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	bucket := fmt.Sprintf("%s:%d", key, r.now().Truncate(window).Unix())
	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, bucket, window); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func ActionKey(caller, action string) string {
	return "omnicoder:rl:" + caller + ":" + action
}

func ChatActionKey(chatID int64, action string) string {
	return ActionKey(fmt.Sprintf("tg%d", chatID), action)
}
