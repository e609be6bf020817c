package algo

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/queue"
	"github.com/quantrail/trade-gateway/internal/signer"
)

// VerifyCallback returns middleware that authenticates inbound callbacks
// from the trading engine using the same HMAC envelope as outbound calls.
// Requests with a missing or wrong signature, a stale timestamp, or a nonce
// seen before are rejected with a generic 401.
func VerifyCallback(s *signer.Signer, audit func(ev queue.SecurityEvent)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(io.LimitReader(req.Body, 4<<20))
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
			}
			_ = req.Body.Close()
			// Hand the body back to the handler untouched.
			req.Body = io.NopCloser(bytes.NewReader(body))

			err = s.Verify(req.Context(),
				req.Header.Get(HeaderTimestamp),
				req.Header.Get(HeaderNonce),
				req.Method,
				req.URL.Path,
				body,
				req.Header.Get(HeaderSignature))
			if err != nil {
				if errors.Is(err, signer.ErrReplayed) && audit != nil {
					audit(queue.SecurityEvent{
						Type:       queue.EventCallbackReplay,
						Detail:     "replayed nonce on " + req.URL.Path,
						IP:         c.RealIP(),
						OccurredAt: time.Now().UTC(),
					})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}
