// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/quantrail/trade-gateway/internal/algo"
	"github.com/quantrail/trade-gateway/internal/config"
	"github.com/quantrail/trade-gateway/internal/handler"
	"github.com/quantrail/trade-gateway/internal/middleware"
	"github.com/quantrail/trade-gateway/internal/queue"
	"github.com/quantrail/trade-gateway/internal/signer"
	"github.com/quantrail/trade-gateway/internal/token"
)

// Deps carries everything the routes need.
type Deps struct {
	Cfg     config.Config
	Tokens  *token.Service
	Auth    *handler.AuthHandler
	Profile *handler.ProfileHandler
	Engine  *handler.EngineHandler
	Admin   *handler.AdminHandler
	Users   middleware.UserDirectory
	Signer  *signer.Signer
	Redis   *redis.Client
	Audit   func(ev queue.SecurityEvent)
}

// Register mounts all routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)

	// Session endpoints; rate limited per IP and route, no token required.
	authGroup := e.Group("/v1/auth")
	authGroup.Use(middleware.RateLimit(d.Redis, d.Cfg.AuthRateMax, d.Cfg.AuthRateWindow))
	authGroup.POST("/register", d.Auth.Register)
	authGroup.POST("/login", d.Auth.Login)
	authGroup.POST("/refresh", d.Auth.Refresh)
	authGroup.POST("/logout", d.Auth.Logout)

	// Everything under /v1 requires a live access token.
	api := e.Group("/v1")
	api.Use(middleware.RequireAuth(d.Tokens))
	api.GET("/me", d.Auth.Me)
	api.POST("/me/password", d.Auth.ChangePassword)

	api.PUT("/profile/broker", d.Profile.Save)
	api.GET("/profile/broker", d.Profile.Get)

	api.POST("/engine/start", d.Engine.Start)
	api.POST("/engine/stop", d.Engine.Stop)
	api.GET("/engine/status", d.Engine.Status)
	api.POST("/backtests", d.Engine.RunBacktest)

	// Admin console: authorization is decided by the users table on every
	// request, never by the token's admin claim.
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin(d.Users))
	admin.GET("/users", d.Admin.ListUsers)
	admin.POST("/users/:id/promote", d.Admin.Promote)
	admin.POST("/users/:id/ban", d.Admin.Ban)

	// Signed callbacks from the trading engine; HMAC envelope instead of a
	// user session, with replay protection on the nonce.
	internal := e.Group("/v1/internal")
	internal.Use(algo.VerifyCallback(d.Signer, d.Audit))
	internal.POST("/engine/events", d.Engine.Callback)
}
