package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/repository"
)

// reqCtx bounds database work for one request. No store call may hang a
// request thread; timeouts surface as 503, not a stuck connection.
func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// storeFailure maps store-layer errors to responses: unavailable stores are
// retryable 503s, anything else is an opaque 500. Never leaks error detail.
func storeFailure(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}
	c.Logger().Errorf("store failure: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
