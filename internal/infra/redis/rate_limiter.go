package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"adaptive-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a sliding-window limiter over a sorted set per user: members
// are request ids scored by their unix-millisecond timestamp.
type RateLimiter struct {
	client      *redis.Client
	maxRequests int
	window      time.Duration
	clock       func() time.Time
}

func NewRateLimiter(client *redis.Client, maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, maxRequests: maxRequests, window: window, clock: time.Now}
}

// Allow records the request and reports whether the user was under budget
// before it. Errors are returned to the caller, which fails open.
func (l *RateLimiter) Allow(ctx context.Context, userID string) (domain.RateLimitResult, error) {
	now := l.clock()
	key := rateLimitKey(userID)
	windowStart := now.Add(-l.window).UnixMilli()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	current := int(count.Val())
	remaining := l.maxRequests - current - 1
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitResult{
		Allowed:   current < l.maxRequests,
		Remaining: remaining,
		ResetAt:   now.Add(l.window),
	}, nil
}

func rateLimitKey(userID string) string {
	return "ratelimit:" + userID
}
