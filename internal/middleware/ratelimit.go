// ratelimit.go implements per-user rate limiting with token buckets from
// golang.org/x/time/rate. Each caller gets a bucket holding an hour's worth
// of requests that refills continuously.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
)

// RateLimiter tracks request rates per caller.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	perHour  int
	limit    rate.Limit
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perHour requests per caller.
func NewRateLimiter(perHour int) *RateLimiter {
	if perHour < 1 {
		perHour = 1
	}
	rl := &RateLimiter{
		limiters: make(map[string]*visitor),
		perHour:  perHour,
		limit:    rate.Limit(float64(perHour) / 3600.0),
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RateLimit returns Gin middleware that keys on the authenticated user,
// or the client IP for anonymous routes.
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if user := GetUser(c); user != nil {
			key = "user:" + user.ID
		}

		limiter := rl.get(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.perHour))
		if !limiter.Allow() {
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:   "rate_limit_exceeded",
				Message: "Rate limit exceeded. Try again later.",
				Code:    http.StatusTooManyRequests,
			})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
		c.Next()
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.perHour)}
		rl.limiters[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanup drops callers idle for over an hour; their bucket would be full
// again anyway.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, v := range rl.limiters {
				if now.Sub(v.lastSeen) > time.Hour {
					delete(rl.limiters, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
