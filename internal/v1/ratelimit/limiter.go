// Package ratelimit enforces request and connection rate limits, backed by
// Redis when available and local memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/ludostacked/backend/internal/v1/auth"
	"github.com/ludostacked/backend/internal/v1/config"
	"github.com/ludostacked/backend/internal/v1/logging"
	"github.com/ludostacked/backend/internal/v1/metrics"
)

// RateLimiter holds one limiter per scope. API limits key by user when
// authenticated and by IP otherwise; websocket connect limits check IP first
// and the user after authentication.
type RateLimiter struct {
	apiGlobal *limiter.Limiter
	apiPublic *limiter.Limiter
	apiRooms  *limiter.Limiter
	wsIP      *limiter.Limiter
	wsUser    *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter parses the configured rates and picks a store. A nil Redis
// client falls back to per-instance memory.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rates := map[string]*limiter.Rate{}
	for name, formatted := range map[string]string{
		"api_global": cfg.RateLimitAPIGlobal,
		"api_public": cfg.RateLimitAPIPublic,
		"api_rooms":  cfg.RateLimitAPIRooms,
		"ws_ip":      cfg.RateLimitWsIP,
		"ws_user":    cfg.RateLimitWsUser,
	} {
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("invalid %s rate %q: %w", name, formatted, err)
		}
		r := rate
		rates[name] = &r
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store, limits are per instance")
	}

	return &RateLimiter{
		apiGlobal: limiter.New(store, *rates["api_global"]),
		apiPublic: limiter.New(store, *rates["api_public"]),
		apiRooms:  limiter.New(store, *rates["api_rooms"]),
		wsIP:      limiter.New(store, *rates["ws_ip"]),
		wsUser:    limiter.New(store, *rates["ws_user"]),
		store:     store,
	}, nil
}

// GlobalMiddleware applies the baseline API limit: the user limit for
// authenticated requests, the tighter public limit keyed by IP otherwise.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterInstance := rl.apiPublic
		key := c.ClientIP()
		limitType := "ip"

		if claims, exists := c.Get("claims"); exists {
			limiterInstance = rl.apiGlobal
			key = claims.(*auth.Claims).Subject
			limitType = "user"
		}

		ctx := c.Request.Context()
		lctx, err := limiterInstance.Get(ctx, key)
		if err != nil {
			// Fail open: availability beats strictness when the store is down.
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// RoomsMiddleware applies the tighter per-user limit on room mutation
// endpoints.
func (rl *RateLimiter) RoomsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if claims, exists := c.Get("claims"); exists {
			key = claims.(*auth.Claims).Subject
		}

		ctx := c.Request.Context()
		lctx, err := rl.apiRooms.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "rooms").Inc()
			c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocket enforces the per-IP connect limit before the upgrade.
// Returns false after writing the 429 response.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	lctx, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed", zap.Error(err))
		return true
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}
	return true
}

// CheckWebSocketUser enforces the per-user connect limit. Call after the
// connection authenticates.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userID string) error {
	lctx, err := rl.wsUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed", zap.Error(err))
		return nil
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "user").Inc()
		return fmt.Errorf("connection rate limit exceeded for user")
	}
	return nil
}
