// Package signer produces and checks the HMAC envelope on service-to-service
// calls between the gateway and the external trading engine. Every call
// carries a timestamp, a single-use nonce, and an HMAC-SHA256 signature over
// the canonical string "timestamp.nonce.method.path.body"; the verifier
// enforces a freshness window and rejects any nonce it has seen before.
package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// DefaultWindow is how far a call's timestamp may drift from the verifier's
// clock before the call is considered stale.
const DefaultWindow = 120 * time.Second

// ErrBadSignature is returned when the recomputed HMAC does not match.
var ErrBadSignature = errors.New("signature mismatch")

// ErrStale is returned when the timestamp is outside the freshness window
// or not a unix-seconds integer.
var ErrStale = errors.New("timestamp outside freshness window")

// ErrReplayed is returned when the nonce was already seen inside the window.
var ErrReplayed = errors.New("nonce replayed")

// NonceStore remembers nonces for the lifetime of the freshness window.
// Remember returns false when the nonce was already present.
type NonceStore interface {
	Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// Signer signs outbound calls and verifies inbound ones with a pre-shared
// secret distinct from the JWT secrets.
type Signer struct {
	key    []byte
	window time.Duration
	nonces NonceStore
}

// New builds a Signer. nonces may be nil on the pure-client side where
// nothing inbound is ever verified.
func New(key string, window time.Duration, nonces NonceStore) *Signer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Signer{key: []byte(key), window: window, nonces: nonces}
}

// Sign computes the hex HMAC-SHA256 signature for one call. body is the
// exact byte payload sent on the wire, nil/empty when there is none.
func (s *Signer) Sign(timestamp, nonce, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write([]byte(method))
	mac.Write([]byte("."))
	mac.Write([]byte(path))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature, freshness, and nonce uniqueness for an inbound
// call. The signature comparison is constant-time; freshness and replay are
// only checked after the signature holds, so unauthenticated traffic cannot
// poison the nonce store.
func (s *Signer) Verify(ctx context.Context, timestamp, nonce, method, path string, body []byte, signature string) error {
	expected := s.Sign(timestamp, nonce, method, path, body)
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(want, provided) {
		return ErrBadSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStale
	}
	drift := time.Since(time.Unix(ts, 0))
	if drift > s.window || drift < -s.window {
		return ErrStale
	}

	if s.nonces != nil {
		// Nonces are kept twice the window so a replay arriving at the edge
		// of freshness still finds the original entry.
		fresh, err := s.nonces.Remember(ctx, nonce, 2*s.window)
		if err != nil {
			return err
		}
		if !fresh {
			return ErrReplayed
		}
	}
	return nil
}

// Window reports the configured freshness window.
func (s *Signer) Window() time.Duration { return s.window }
