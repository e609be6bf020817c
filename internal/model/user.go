package model

import "time"

// User mirrors the `users` table. Usernames are unique and case-sensitive
// (the column uses a binary collation); rows are never deleted, accounts are
// disabled through IsActive instead.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Username     – unique, case-sensitive login name.
//  Email        – optional contact address.
//  PasswordHash – bcrypt hashed password.
//  IsAdmin      – administrative flag; authorization always re-reads this
//                 column, never the copy carried inside a token.
//  IsActive     – whether the account may authenticate.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	IsAdmin      bool      // users.is_admin
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models a row in the `refresh_tokens` table. The raw token
// value is handed to the client exactly once at issuance; only its SHA-256
// hash is ever stored, so a leaked table cannot be replayed.
//
// Exactly one of {active, revoked, rotated-away, expired} holds for a row.
// RevokedAt marks revocation; ReplacedByHash additionally points at the
// successor when the token was rotated rather than plainly revoked. A row
// presented again after rotation is the reuse-detection signal.
type RefreshToken struct {
	ID             uint64     // refresh_tokens.id
	UserID         uint64     // refresh_tokens.user_id
	TokenHash      string     // refresh_tokens.token_hash (sha256 hex)
	ExpiresAt      time.Time  // refresh_tokens.expires_at
	RevokedAt      *time.Time // refresh_tokens.revoked_at (nullable)
	ReplacedByHash *string    // refresh_tokens.replaced_by_hash (nullable)
	CreatedAt      time.Time  // refresh_tokens.created_at
}

// IsExpired reports whether the token has passed its expiry.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsRevoked reports whether the token was revoked or rotated away.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// BrokerProfile mirrors the `broker_profiles` table: one row per user, each
// sensitive column holding an opaque base64(nonce||tag||ciphertext) value
// produced by the cryptox codec.
type BrokerProfile struct {
	UserID        uint64    // broker_profiles.user_id
	BrokerName    string    // broker_profiles.broker_name
	APIKeyEnc     string    // broker_profiles.api_key_enc
	ClientCodeEnc string    // broker_profiles.client_code_enc
	PasswordEnc   string    // broker_profiles.password_enc
	TOTPEnc       string    // broker_profiles.totp_enc
	UpdatedAt     time.Time // broker_profiles.updated_at
}
