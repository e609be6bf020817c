// Package repository persists credentials, refresh tokens, and encrypted
// broker profiles. Sentinel errors defined here let handlers and the auth
// session manager translate store outcomes into HTTP responses without
// inspecting driver-specific errors.
package repository

import "errors"

// ErrUsernameExists is returned when registration collides with an existing
// username. Handlers translate it into HTTP 409.
var ErrUsernameExists = errors.New("username already exists")

// ErrTokenNotFound is returned when a refresh token hash has no row. It is
// indistinguishable from an expired or revoked token at the HTTP boundary.
var ErrTokenNotFound = errors.New("refresh token not found")

// ErrTokenReused is returned when a rotation is attempted on a token that
// was already rotated or revoked. This is the refresh-token theft signal:
// by the time Rotate returns it, every token of the subject has been
// revoked. Handlers still answer a generic 401.
var ErrTokenReused = errors.New("refresh token reused")

// ErrUnavailable wraps store timeouts and connectivity failures. Handlers
// translate it into HTTP 503 so clients know the request is retryable.
var ErrUnavailable = errors.New("store unavailable")
