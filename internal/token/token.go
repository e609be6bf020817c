// Package token issues and verifies the two JWT classes used by the gateway:
// short-lived access tokens presented on every request and longer-lived
// refresh tokens exchanged during rotation. Each class is signed with its own
// secret so leaking one cannot forge the other.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers every verification failure: bad signature, wrong
// signing method, malformed payload, or expiry. Handlers return the same
// generic message for all of them; finer detail stays in server logs.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the claim payload embedded in both token classes. The is_admin
// claim is identity information only; admin authorization always re-reads
// the users table (see middleware.RequireAdmin).
type Identity struct {
	UserID   uint64 `json:"sub_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Claims is the full JWT claim set.
type Claims struct {
	Identity
	jwt.RegisteredClaims
}

// Service signs and verifies both token classes.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewService builds a Service. Both secrets are required and must differ so
// that one token class can never be replayed as the other.
func NewService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Service, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token: both signing secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	return &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs a short-lived access token for id.
func (s *Service) IssueAccess(id Identity) (string, time.Time, error) {
	return s.issue(id, s.accessSecret, s.accessTTL)
}

// IssueRefresh signs a long-lived refresh token for id. The signed value is
// a secondary check only; the refresh token store remains the source of
// truth for refresh validity.
func (s *Service) IssueRefresh(id Identity) (string, time.Time, error) {
	return s.issue(id, s.refreshSecret, s.refreshTTL)
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(raw string) (*Claims, error) {
	return s.verify(raw, s.accessSecret)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *Service) VerifyRefresh(raw string) (*Claims, error) {
	return s.verify(raw, s.refreshSecret)
}

func (s *Service) issue(id Identity, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Identity: id,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *Service) verify(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything but HMAC before touching claims.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
