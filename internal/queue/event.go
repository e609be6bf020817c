// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// Security event types published on the audit queue.
const (
	EventLoginFailed     = "login.failed"
	EventRefreshReused   = "refresh.reused"
	EventSessionsRevoked = "sessions.revoked"
	EventPasswordChanged = "password.changed"
	EventCallbackReplay  = "callback.replay"
	EventAdminPromoted   = "admin.promoted"
	EventAdminBanned     = "admin.banned"
)

// SecurityEvent is the audit record for authentication incidents: reuse
// detection, mass revocations, privilege changes. It is written to a
// separate audit sink so operators can review it apart from request logs.
// Detail must never contain raw tokens, passwords, or plaintext secrets.
type SecurityEvent struct {
	Type       string    `json:"type"`
	UserID     uint64    `json:"user_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	IP         string    `json:"ip,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
