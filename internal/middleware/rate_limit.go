// internal/middleware/rate_limit.go
package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/javajoker/settlement-backend/internal/utils"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	visitors map[string]*visitor
	mtx      sync.Mutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    b,
	}

	// Clean up old visitors every minute
	go rl.cleanupVisitors()

	return rl
}

func (rl *RateLimiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)
		rl.mtx.Lock()
		for key, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, key)
			}
		}
		rl.mtx.Unlock()
	}
}

func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	rl.mtx.Lock()
	defer rl.mtx.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.visitors[key] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Middleware keys visitors by authenticated user when known, else by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, ok := utils.GetUserIDFromContext(c); ok {
			key = "user:" + userID
		}

		if !rl.getVisitor(key).Allow() {
			utils.TooManyRequestsResponse(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// Default rate limiters
var (
	generalLimiter    = NewRateLimiter(rate.Every(100*time.Millisecond), 20) // 10 requests per second
	settlementLimiter = NewRateLimiter(rate.Every(2*time.Second), 5)         // quotes and submissions
	adminLimiter      = NewRateLimiter(rate.Every(time.Minute), 5)
)

func GeneralRateLimit() gin.HandlerFunc {
	return generalLimiter.Middleware()
}

// SettlementRateLimit throttles quote and submit calls, which hit the ledger.
func SettlementRateLimit() gin.HandlerFunc {
	return settlementLimiter.Middleware()
}

func AdminRateLimit() gin.HandlerFunc {
	return adminLimiter.Middleware()
}
