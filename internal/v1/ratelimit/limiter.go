// Package ratelimit throttles WebSocket upgrade requests per client IP.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/syncroom/syncroom/pkg/v1/logging"
	"github.com/syncroom/syncroom/pkg/v1/metrics"
	"go.uber.org/zap"
)

// RateLimiter enforces the upgrade limit with an in-memory store. The
// server is single-instance, so no distributed store is needed.
type RateLimiter struct {
	wsIP *limiter.Limiter
}

// NewRateLimiter parses a rate in ulule/limiter's formatted notation, e.g.
// "100-M" for 100 requests per minute.
func NewRateLimiter(wsIPRate string) (*RateLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	return &RateLimiter{wsIP: limiter.New(memory.NewStore(), rate)}, nil
}

// CheckWebSocket reports whether a WebSocket upgrade from this client IP is
// allowed. On rejection it writes the 429 response itself. Store errors
// fail open.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ipContext, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}
	return true
}
