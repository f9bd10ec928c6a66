package memory

import (
	"context"
	"sync"
	"time"

	"adaptive-quiz-service/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-user token bucket allowing maxRequests per window with
// bursts up to maxRequests.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	clock       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		clock:       time.Now,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) Allow(_ context.Context, userID string) (domain.RateLimitResult, error) {
	now := l.clock()
	limiter := l.limiter(userID)
	allowed := limiter.AllowN(now, 1)
	tokens := int(limiter.TokensAt(now))
	if tokens < 0 {
		tokens = 0
	}
	resetAt := now.Add(l.window)
	if !allowed {
		// next token
		resetAt = now.Add(l.window / time.Duration(l.maxRequests))
	}
	return domain.RateLimitResult{
		Allowed:   allowed,
		Remaining: tokens,
		ResetAt:   resetAt,
	}, nil
}

func (l *RateLimiter) limiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[userID]
	if !ok {
		every := rate.Every(l.window / time.Duration(l.maxRequests))
		limiter = rate.NewLimiter(every, l.maxRequests)
		l.limiters[userID] = limiter
	}
	return limiter
}
