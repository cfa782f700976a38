package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgehost/controlplane/internal/apperr"
)

// RateLimiter counts events per key (IP, user, or workspace owner) using
// Redis INCR+EXPIRE, shared across every rate-limited policy in §4.8 (auth,
// general API, lifecycle). Each policy gets its own RateLimiter instance
// with its own key prefix, max, and window so the counters never collide.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	max    int
	window time.Duration
}

// NewRateLimiter creates a rate limiter scoped to a key prefix.
func NewRateLimiter(rdb *redis.Client, prefix string, max int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: rdb, prefix: prefix, max: max, window: window}
}

// Result holds the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

// Allow increments the counter for key and reports whether the caller may
// proceed. The increment happens unconditionally (a rejected request still
// counts), matching the teacher's login-attempt limiter semantics.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("incrementing rate limit counter: %w", err)
	}

	count := incr.Val()
	if count == 1 {
		rl.redis.Expire(ctx, redisKey, rl.window)
	}

	if count > int64(rl.max) {
		ttl, err := rl.redis.TTL(ctx, redisKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Result{}, fmt.Errorf("getting rate limit TTL: %w", err)
		}
		return Result{Allowed: false, Remaining: 0, RetryAt: time.Now().Add(ttl)}, nil
	}

	return Result{Allowed: true, Remaining: rl.max - int(count)}, nil
}

// Middleware rejects requests once keyFn's key has exceeded the policy.
func (rl *RateLimiter) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := rl.Allow(r.Context(), keyFn(r))
			if err != nil {
				RespondError(w, apperr.Wrap(apperr.KindInternal, "rate limit check failed", err))
				return
			}
			if !result.Allowed {
				RespondError(w, apperr.New(apperr.KindRateLimited, "too many requests, try again later").WithDetails(map[string]any{
					"retry_at": result.RetryAt.UTC().Format(time.RFC3339),
				}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the caller's address, preferring X-Forwarded-For's
// first hop when present (the control plane sits behind a trusted proxy in
// production), falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	return r.RemoteAddr
}
