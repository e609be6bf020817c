// Package algo is the gateway's client for the external trading engine.
// Every outbound call is wrapped in the signer's HMAC envelope; the engine
// owns the payload shapes, this package only moves signed JSON.
package algo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantrail/trade-gateway/internal/signer"
)

// Headers carrying the signature envelope on internal calls.
const (
	HeaderTimestamp = "x-internal-timestamp"
	HeaderNonce     = "x-internal-nonce"
	HeaderSignature = "x-internal-signature"
)

// ErrEngineUnavailable is returned for network failures and engine 5xx
// responses; callers should answer 502/503 and may retry.
var ErrEngineUnavailable = errors.New("trading engine unavailable")

// EngineError is a non-2xx, non-5xx engine response passed back to the
// caller with its original status.
type EngineError struct {
	StatusCode int
	Body       string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.StatusCode, e.Body)
}

// Client issues signed HTTP calls to the engine.
type Client struct {
	baseURL string
	signer  *signer.Signer
	http    *http.Client
}

// NewClient builds a Client. The signer must use the engine's pre-shared
// key, which is distinct from both JWT secrets.
func NewClient(baseURL string, s *signer.Signer) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  s,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Call performs one signed request. body is the exact JSON payload, nil for
// none; the response body is returned for 2xx statuses.
func (c *Client) Call(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.NewString()
	sig := c.signer.Sign(timestamp, nonce, method, path, body)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, sig)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrEngineUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, &EngineError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// StartEngine forwards a start request for the user's strategy session.
func (c *Client) StartEngine(ctx context.Context, payload []byte) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodPost, "/engine/start", payload)
}

// StopEngine forwards a stop request.
func (c *Client) StopEngine(ctx context.Context, payload []byte) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodPost, "/engine/stop", payload)
}

// EngineStatus fetches the engine status snapshot.
func (c *Client) EngineStatus(ctx context.Context) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodGet, "/engine/status", nil)
}

// RunBacktest submits a backtest job.
func (c *Client) RunBacktest(ctx context.Context, payload []byte) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodPost, "/backtest/run", payload)
}
