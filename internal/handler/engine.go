package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/algo"
)

// EngineHandler proxies authenticated requests to the external trading
// engine. Payload shapes are owned by the engine; the gateway only attaches
// the signature envelope and relays JSON.
type EngineHandler struct {
	Engine *algo.Client
}

func NewEngineHandler(engine *algo.Client) *EngineHandler {
	return &EngineHandler{Engine: engine}
}

func (h *EngineHandler) Start(c echo.Context) error {
	return h.forward(c, func(body []byte) (json.RawMessage, error) {
		return h.Engine.StartEngine(c.Request().Context(), body)
	})
}

func (h *EngineHandler) Stop(c echo.Context) error {
	return h.forward(c, func(body []byte) (json.RawMessage, error) {
		return h.Engine.StopEngine(c.Request().Context(), body)
	})
}

func (h *EngineHandler) Status(c echo.Context) error {
	return h.forward(c, func([]byte) (json.RawMessage, error) {
		return h.Engine.EngineStatus(c.Request().Context())
	})
}

func (h *EngineHandler) RunBacktest(c echo.Context) error {
	return h.forward(c, func(body []byte) (json.RawMessage, error) {
		return h.Engine.RunBacktest(c.Request().Context(), body)
	})
}

// Callback receives signed events pushed back by the engine. Signature,
// freshness, and nonce uniqueness have already been enforced by the
// VerifyCallback middleware guarding this route.
func (h *EngineHandler) Callback(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}

func (h *EngineHandler) forward(c echo.Context, call func(body []byte) (json.RawMessage, error)) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	out, err := call(body)
	if err != nil {
		var engineErr *algo.EngineError
		switch {
		case errors.As(err, &engineErr):
			return c.JSON(engineErr.StatusCode, echo.Map{"error": engineErr.Body})
		case errors.Is(err, algo.ErrEngineUnavailable):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "trading engine unavailable"})
		default:
			return storeFailure(c, err)
		}
	}
	return c.JSONBlob(http.StatusOK, out)
}
