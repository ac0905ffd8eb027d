package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/patternvault/backend/shared/logging"
)

const RateLimitKeyPrefix = "throttle:"

// Limiter decides whether one more request for key fits the current window.
// When it does not, retryAfter says how long until it would.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// counterStore is the subset of the Redis client used for fixed windows.
type counterStore interface {
	Incr(ctx context.Context, key string) *goredis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
	TTL(ctx context.Context, key string) *goredis.DurationCmd
}

// RedisLimiter counts requests in fixed windows shared by every replica.
type RedisLimiter struct {
	store  counterStore
	limit  int64
	window time.Duration
}

func NewRedisLimiter(store counterStore, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{store: store, limit: int64(limit), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	key = RateLimitKeyPrefix + key

	n, err := l.store.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if n == 1 {
		if err := l.store.Expire(ctx, key, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("failed to set rate window: %w", err)
		}
	}
	if n <= l.limit {
		return true, 0, nil
	}

	ttl, err := l.store.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		// A counter without expiry would block forever.
		if ttl == -1 {
			_ = l.store.Expire(ctx, key, l.window).Err()
		}
		ttl = l.window
	}
	return false, ttl, nil
}

// MemoryLimiter is the single-process fallback used when Redis is disabled.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	return &MemoryLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idleTTL: window,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastUse = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastUse) > l.idleTTL {
			delete(l.entries, k)
		}
	}
}

// Throttle rejects requests beyond the limiter's budget with 429. The budget
// is tracked per scope and client IP. Limiter failures let the request
// through.
func Throttle(limiter Limiter, scope string, log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if err != nil {
			log.Warn(c.Request.Context(), "rate limiter unavailable", "scope", scope, "error", err)
			c.Next()
			return
		}
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			RespondWithError(c, http.StatusTooManyRequests,
				fmt.Sprintf("Request was throttled. Expected available in %d seconds.", secs))
			c.Abort()
			return
		}
		c.Next()
	}
}
