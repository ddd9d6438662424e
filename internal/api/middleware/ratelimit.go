package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterTTL is how long an idle client keeps its bucket
const limiterTTL = 5 * time.Minute

// RateLimiter hands out one token bucket per client IP. Buckets of idle
// clients expire; expired entries are swept on the request path so no
// background goroutine is needed.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   *cache.Cache
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests
// with the given burst per client
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: cache.New(limiterTTL, 0),
		now:     time.Now,
	}
}

// Allow reports whether a request from key may proceed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	if now.Sub(rl.lastSweep) > limiterTTL {
		rl.buckets.DeleteExpired()
		rl.lastSweep = now
	}
	var l *rate.Limiter
	if v, ok := rl.buckets.Get(key); ok {
		l = v.(*rate.Limiter)
	} else {
		l = rate.NewLimiter(rl.limit, rl.burst)
	}
	// refresh the expiry on every request
	rl.buckets.SetDefault(key, l)
	rl.mu.Unlock()

	return l.AllowN(now, 1)
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	return rl.buckets.ItemCount()
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
