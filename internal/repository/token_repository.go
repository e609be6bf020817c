package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/quantrail/trade-gateway/internal/model"
)

// TokenRepo persists refresh tokens. Only SHA-256 hex hashes of raw token
// values ever reach this layer; the store is the single source of truth for
// refresh validity, the signed token's own exp is a redundant check.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Issue inserts a refresh token hash row.
func (r *TokenRepo) Issue(ctx context.Context, userID uint64, tokenHash string, expiresAt time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?,?,?)",
		userID, tokenHash, expiresAt)
	return wrapStoreErr(err)
}

// Lookup returns the row for a token hash, or ErrTokenNotFound.
func (r *TokenRepo) Lookup(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,user_id,token_hash,expires_at,revoked_at,replaced_by_hash,created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt,
		&t.RevokedAt, &t.ReplacedByHash, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrTokenNotFound
	}
	return t, wrapStoreErr(err)
}

// IsActive reports whether the hash maps to a live token: present, not
// revoked, not expired. The store is authoritative for refresh validity;
// callers treat the signed token's own expiry as a secondary check only.
func (r *TokenRepo) IsActive(ctx context.Context, tokenHash string) (model.RefreshToken, bool, error) {
	t, err := r.Lookup(ctx, tokenHash)
	if err != nil {
		return t, false, err
	}
	return t, !t.IsRevoked() && !t.IsExpired(time.Now().UTC()), nil
}

// Rotate atomically retires oldHash and installs newHash for the same user.
// The old row is locked for the duration of the transaction, so two
// concurrent rotations of one (possibly stolen and shared) token cannot
// both succeed.
//
// A row that already carries revoked_at or replaced_by_hash means the token
// was spent once before: the reuse signal. In that case every token of the
// subject is revoked inside the same transaction and ErrTokenReused is
// returned, forcing re-authentication on all devices.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var old model.RefreshToken
	err = tx.QueryRowContext(ctx,
		"SELECT user_id, expires_at, revoked_at, replaced_by_hash FROM refresh_tokens WHERE token_hash=? FOR UPDATE",
		oldHash).Scan(&old.UserID, &old.ExpiresAt, &old.RevokedAt, &old.ReplacedByHash)
	if err == sql.ErrNoRows {
		return 0, ErrTokenNotFound
	}
	if err != nil {
		return 0, wrapStoreErr(err)
	}

	if old.IsRevoked() || old.ReplacedByHash != nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked_at=NOW() WHERE user_id=? AND revoked_at IS NULL",
			old.UserID); err != nil {
			return 0, wrapStoreErr(err)
		}
		if err := tx.Commit(); err != nil {
			return 0, wrapStoreErr(err)
		}
		return old.UserID, ErrTokenReused
	}
	if old.IsExpired(time.Now().UTC()) {
		return 0, ErrTokenNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW(), replaced_by_hash=? WHERE token_hash=?",
		newHash, oldHash); err != nil {
		return 0, wrapStoreErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?,?,?)",
		old.UserID, newHash, expiresAt); err != nil {
		return 0, wrapStoreErr(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapStoreErr(err)
	}
	return old.UserID, nil
}

// Revoke marks one token as revoked. Revoking an unknown or already revoked
// hash is a no-op, which keeps logout idempotent.
func (r *TokenRepo) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW() WHERE token_hash=? AND revoked_at IS NULL",
		tokenHash)
	return wrapStoreErr(err)
}

// RevokeAllForUser revokes every live token of a subject. Used on logout of
// all sessions, password change, ban, and detected reuse.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW() WHERE user_id=? AND revoked_at IS NULL",
		userID)
	return wrapStoreErr(err)
}
