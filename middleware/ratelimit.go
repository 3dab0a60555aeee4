package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	idle    time.Duration
	clients map[string]*ipLimiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idle:    10 * time.Minute,
		clients: map[string]*ipLimiter{},
	}
}

func (rl *RateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.clients[ip]; ok {
		l.last = now
		return l.limiter
	}
	// opportunistic cleanup instead of a background goroutine
	for key, l := range rl.clients {
		if now.Sub(l.last) > rl.idle {
			delete(rl.clients, key)
		}
	}
	l := &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst), last: now}
	rl.clients[ip] = l
	return l.limiter
}

// Middleware rejects a client over its budget with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiterFor(c.ClientIP(), time.Now()).Allow() {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "Too many requests, please slow down"})
			c.Abort()
			return
		}
		c.Next()
	}
}
