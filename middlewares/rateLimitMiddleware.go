package middlewares

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/utils"
	"github.com/redis/go-redis/v9"
)

// LocationRateLimiter caps requests per (business, location) in a fixed window.
// Counters live in redis so every API instance shares them.
type LocationRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewLocationRateLimiter(client *redis.Client, limit int64, window time.Duration) *LocationRateLimiter {
	return &LocationRateLimiter{client: client, limit: limit, window: window}
}

// Key is the counter key for the caller on the current window.
func (rl *LocationRateLimiter) Key(c *gin.Context, now time.Time) string {
	ctx := c.Request.Context()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	location := "none"
	if loc, ok := utils.GetLocationIdFromContext(ctx); ok && loc > 0 {
		location = strconv.Itoa(loc)
	}
	if businessId == "" {
		businessId = "ip:" + c.ClientIP()
	}
	bucket := now.Unix() / int64(rl.window.Seconds())
	return fmt.Sprintf("RateLimit:%s:%s:%d", businessId, location, bucket)
}

// Middleware must run after AuthMiddleware. A missing client or a redis failure lets the
// request through; limiting is not worth failing a sale for.
func (rl *LocationRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.client == nil || rl.limit <= 0 || rl.window <= 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := rl.Key(c, time.Now())

		pipe := rl.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			config.LogWarn(config.GetLogger(), "middlewares", "LocationRateLimiter", "redis incr", key, err)
			c.Next()
			return
		}
		if incr.Val() > rl.limit {
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": fmt.Sprintf("rate limit exceeded, try again in %d seconds", int(rl.window.Seconds())),
			})
			return
		}
		c.Next()
	}
}
