package repository

import (
	"context"
	"database/sql"

	"github.com/quantrail/trade-gateway/internal/model"
)

// ProfileRepo stores encrypted broker credentials, one row per user. The
// columns hold opaque ciphertext; encryption and decryption happen above
// this layer in the handler via the cryptox codec.
type ProfileRepo struct{ DB *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{DB: db} }

// Upsert inserts or replaces the user's broker profile.
func (r *ProfileRepo) Upsert(ctx context.Context, p model.BrokerProfile) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO broker_profiles (user_id, broker_name, api_key_enc, client_code_enc, password_enc, totp_enc)
		 VALUES (?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE broker_name=VALUES(broker_name), api_key_enc=VALUES(api_key_enc),
		 client_code_enc=VALUES(client_code_enc), password_enc=VALUES(password_enc), totp_enc=VALUES(totp_enc)`,
		p.UserID, p.BrokerName, p.APIKeyEnc, p.ClientCodeEnc, p.PasswordEnc, p.TOTPEnc)
	return wrapStoreErr(err)
}

// Get fetches the user's broker profile. Returns sql.ErrNoRows when the
// user has not saved one yet.
func (r *ProfileRepo) Get(ctx context.Context, userID uint64) (model.BrokerProfile, error) {
	var p model.BrokerProfile
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id, broker_name, api_key_enc, client_code_enc, password_enc, totp_enc, updated_at
		 FROM broker_profiles WHERE user_id=? LIMIT 1`, userID).
		Scan(&p.UserID, &p.BrokerName, &p.APIKeyEnc, &p.ClientCodeEnc, &p.PasswordEnc, &p.TOTPEnc, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, err
	}
	return p, wrapStoreErr(err)
}
