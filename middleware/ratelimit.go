package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a per-key token bucket that refills completely every window.
// The limit is read on each request so a settings change applies immediately.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    func() int
	window   time.Duration
	now      func() time.Time
}

type visitor struct {
	tokens     int
	lastRefill time.Time
}

func NewRateLimiter(limit func() int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow takes one token for key. When none is left it returns how long until the refill.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit := rl.limit()
	if limit <= 0 {
		return true, 0
	}
	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok || now.Sub(v.lastRefill) >= rl.window {
		v = &visitor{tokens: limit, lastRefill: now}
		rl.visitors[key] = v
	}
	if v.tokens > 0 {
		v.tokens--
		return true, 0
	}
	return false, v.lastRefill.Add(rl.window).Sub(now)
}

// Cleanup drops visitors idle for more than two windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for k, v := range rl.visitors {
		if now.Sub(v.lastRefill) > 2*rl.window {
			delete(rl.visitors, k)
		}
	}
}

// Middleware limits by user id when authenticated, else by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("user_id")
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		ok, wait := rl.Allow(key)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded, try again later"})
			return
		}
		c.Next()
	}
}
