package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimit returns a fixed-window limiter keyed on client IP and route,
// meant for the authentication endpoints. The counter lives in Redis so the
// window is shared across gateway instances. When rdb is nil or Redis
// errors, requests pass through: availability over strictness, same posture
// the rest of the gateway takes toward a missing Redis.
func RateLimit(rdb *redis.Client, max int, window time.Duration) echo.MiddlewareFunc {
	if rdb == nil || max <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			key := "rl:" + ip + ":" + c.Request().Method + ":" + c.Path()
			ctx := c.Request().Context()

			count, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				return next(c)
			}
			if count == 1 {
				_ = rdb.Expire(ctx, key, window).Err()
			}

			remaining := int64(max) - count
			if remaining < 0 {
				remaining = 0
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(max))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(max) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(window/time.Second)))
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
