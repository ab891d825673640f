package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's limiter survives without requests.
const limiterIdleTTL = 10 * time.Minute

// ClientLimiters hands out one token bucket per client key. Buckets of clients that
// stop calling expire instead of accumulating for the life of the process.
type ClientLimiters struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewClientLimiters creates an empty limiter set allowing r events per second with burst b.
func NewClientLimiters(r rate.Limit, b int) *ClientLimiters {
	return &ClientLimiters{
		limiters: cache.New(limiterIdleTTL, limiterIdleTTL),
		r:        r,
		b:        b,
	}
}

// Get returns the limiter for key, creating it on first use and refreshing its expiry.
func (l *ClientLimiters) Get(key string) *rate.Limiter {
	if v, ok := l.limiters.Get(key); ok {
		limiter := v.(*rate.Limiter)
		l.limiters.Set(key, limiter, cache.DefaultExpiration)
		return limiter
	}

	limiter := rate.NewLimiter(l.r, l.b)
	// Add fails when another request created the limiter first; use theirs.
	if err := l.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// Len returns the number of live limiters.
func (l *ClientLimiters) Len() int {
	return l.limiters.ItemCount()
}

// RateLimiter is a middleware for client-IP based rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiters := NewClientLimiters(r, b)
	return func(c *gin.Context) {
		if !limiters.Get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
