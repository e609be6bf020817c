package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/model"
)

// UserDirectory is the read access the admin gate needs.
type UserDirectory interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// RequireAdmin elevates an authenticated request to admin scope. The token's
// is_admin claim is deliberately ignored for authorization: the gate
// re-reads the credential row on every request, so a demotion, ban, or
// deletion takes effect immediately even while old tokens are still live.
//
// Responses: 401 when the subject no longer exists or is disabled, 403 when
// the subject is not an admin.
func RequireAdmin(users UserDirectory) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := UserID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()

			user, err := users.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
				}
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
			}
			if !user.IsActive {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			if !user.IsAdmin {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
