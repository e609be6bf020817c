// Package middleware provides shared request processing: access-token
// authentication, the database-backed admin gate, and rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/token"
)

// Context keys set by RequireAuth.
const (
	CtxUserID   = "user_id"
	CtxUsername = "username"
	CtxIsAdmin  = "is_admin"
)

// RequireAuth validates the Bearer access token on each request and injects
// the verified identity into the echo context. Expired, forged, and
// malformed tokens all yield the same 401; the distinction stays server-side.
func RequireAuth(tokens *token.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			raw := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := tokens.VerifyAccess(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			c.Set(CtxUserID, claims.UserID)
			c.Set(CtxUsername, claims.Username)
			c.Set(CtxIsAdmin, claims.IsAdmin)
			return next(c)
		}
	}
}

// UserID extracts the authenticated subject id set by RequireAuth. The
// second return is false when the request is unauthenticated.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(CtxUserID).(uint64)
	return id, ok
}
