// Package auth orchestrates login, registration, refresh rotation, and
// logout on top of the token service and the credential/refresh stores. All
// session state lives in the stores; nothing here survives a request.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/quantrail/trade-gateway/internal/model"
	"github.com/quantrail/trade-gateway/internal/queue"
	"github.com/quantrail/trade-gateway/internal/repository"
	"github.com/quantrail/trade-gateway/internal/token"
)

// MinPasswordLen is the registration floor for password length.
const MinPasswordLen = 8

var (
	// ErrInvalidCredentials covers unknown username and wrong password
	// alike so responses cannot be used for username enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrUnauthorized is returned for any unusable refresh token: unknown,
	// expired, revoked, rotated away, or bearing a bad signature.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAccountDisabled is returned when a disabled account authenticates
	// with otherwise correct credentials.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrWeakPassword is returned when a password is below MinPasswordLen.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	// ErrValidation is returned for missing username or password.
	ErrValidation = errors.New("username and password required")
)

// UserStore is the credential persistence the manager needs.
type UserStore interface {
	Create(ctx context.Context, username, email, passwordHash string) (uint64, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, passwordHash string) error
}

// RefreshStore is the refresh-token persistence the manager needs. Rotate
// must be atomic against concurrent rotations of the same hash and must
// return repository.ErrTokenReused after revoking the whole subject when a
// spent token is presented again.
type RefreshStore interface {
	Issue(ctx context.Context, userID uint64, tokenHash string, expiresAt time.Time) error
	IsActive(ctx context.Context, tokenHash string) (model.RefreshToken, bool, error)
	Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (uint64, error)
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// Auditor records security events out of band of the request log.
// Implementations must be best-effort; the manager ignores publish errors.
type Auditor interface {
	Publish(ctx context.Context, ev queue.SecurityEvent) error
}

// Session is the result of a successful register, login, or refresh. The
// raw refresh token appears here exactly once; it is never stored or logged.
type Session struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
	User         model.User
}

// Manager drives the session lifecycle Anonymous → Authenticated →
// (Refreshed)* → LoggedOut.
type Manager struct {
	users        UserStore
	tokens       RefreshStore
	jwt          *token.Service
	audit        Auditor
	bcryptCost   int
	storeTimeout time.Duration
}

func NewManager(users UserStore, tokens RefreshStore, jwt *token.Service, audit Auditor, bcryptCost int) *Manager {
	return &Manager{
		users:        users,
		tokens:       tokens,
		jwt:          jwt,
		audit:        audit,
		bcryptCost:   bcryptCost,
		storeTimeout: 5 * time.Second,
	}
}

// Register creates a credential and opens the first session for it.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrValidation
	}
	if len(password) < MinPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.bcryptCost)
	if err != nil {
		return nil, err
	}
	id, err := m.users.Create(ctx, username, email, string(hash))
	if err != nil {
		if errors.Is(err, repository.ErrUsernameExists) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	user, err := m.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.openSession(ctx, user)
}

// Login verifies a password and opens a session. Unknown usernames and
// wrong passwords produce the same error.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := m.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		m.emit(ctx, queue.SecurityEvent{Type: queue.EventLoginFailed, UserID: user.ID,
			Detail: "password mismatch for " + user.Username})
		return nil, ErrInvalidCredentials
	}
	return m.openSession(ctx, user)
}

// Refresh exchanges a live refresh token for a fresh pair and retires the
// old one. The presented token is single-use: a second Refresh with it
// fails, and a token already rotated away trips the reuse response (all of
// the subject's tokens revoked, security event recorded).
func (m *Manager) Refresh(ctx context.Context, rawRefresh string) (*Session, error) {
	claims, err := m.jwt.VerifyRefresh(rawRefresh)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := m.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	// The store, not the token's own exp, decides refresh validity. A token
	// that was already rotated away is the theft signal: revoke the subject
	// entirely before answering.
	oldHash := HashToken(rawRefresh)
	row, active, err := m.tokens.IsActive(ctx, oldHash)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !active {
		if row.ReplacedByHash != nil {
			storeCtx, cancel := m.detached(ctx)
			defer cancel()
			_ = m.tokens.RevokeAllForUser(storeCtx, user.ID)
			m.emit(ctx, queue.SecurityEvent{Type: queue.EventRefreshReused, UserID: user.ID,
				Detail: "rotated refresh token presented again; all sessions revoked"})
		}
		return nil, ErrUnauthorized
	}

	newRefresh, newRefreshExp, err := m.jwt.IssueRefresh(identityOf(user))
	if err != nil {
		return nil, err
	}

	// Rotation must complete even if the client goes away mid-request:
	// failing to persist the swap is the unsafe direction. Rotate re-checks
	// the row under lock, so two concurrent refreshes of one stolen-and-
	// shared token cannot both win even though IsActive passed for both.
	storeCtx, cancel := m.detached(ctx)
	defer cancel()
	if _, err := m.tokens.Rotate(storeCtx, oldHash, HashToken(newRefresh), newRefreshExp); err != nil {
		switch {
		case errors.Is(err, repository.ErrTokenReused):
			m.emit(ctx, queue.SecurityEvent{Type: queue.EventRefreshReused, UserID: user.ID,
				Detail: "rotated refresh token presented again; all sessions revoked"})
			return nil, ErrUnauthorized
		case errors.Is(err, repository.ErrTokenNotFound):
			return nil, ErrUnauthorized
		default:
			return nil, err
		}
	}

	access, accessExp, err := m.jwt.IssueAccess(identityOf(user))
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: newRefresh,
		RefreshExp:   newRefreshExp,
		User:         user,
	}, nil
}

// Logout revokes one refresh token. It is idempotent: unknown, expired, or
// already revoked tokens are not an error.
func (m *Manager) Logout(ctx context.Context, rawRefresh string) error {
	if rawRefresh == "" {
		return nil
	}
	storeCtx, cancel := m.detached(ctx)
	defer cancel()
	return m.tokens.Revoke(storeCtx, HashToken(rawRefresh))
}

// RevokeAll terminates every session of a subject. Used on ban and exposed
// for the admin console.
func (m *Manager) RevokeAll(ctx context.Context, userID uint64, reason string) error {
	storeCtx, cancel := m.detached(ctx)
	defer cancel()
	if err := m.tokens.RevokeAllForUser(storeCtx, userID); err != nil {
		return err
	}
	m.emit(ctx, queue.SecurityEvent{Type: queue.EventSessionsRevoked, UserID: userID, Detail: reason})
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every outstanding refresh token for the subject.
func (m *Manager) ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLen {
		return ErrWeakPassword
	}
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnauthorized
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), m.bcryptCost)
	if err != nil {
		return err
	}
	if err := m.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return err
	}
	if err := m.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	m.emit(ctx, queue.SecurityEvent{Type: queue.EventPasswordChanged, UserID: userID,
		Detail: "password changed; all sessions revoked"})
	return nil
}

func (m *Manager) openSession(ctx context.Context, user model.User) (*Session, error) {
	access, accessExp, err := m.jwt.IssueAccess(identityOf(user))
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := m.jwt.IssueRefresh(identityOf(user))
	if err != nil {
		return nil, err
	}
	storeCtx, cancel := m.detached(ctx)
	defer cancel()
	if err := m.tokens.Issue(storeCtx, user.ID, HashToken(refresh), refreshExp); err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
		User:         user,
	}, nil
}

// detached bounds a store call with the manager timeout while surviving
// client disconnects: an unreturned but persisted token leaks nothing,
// whereas a revoked-old/missing-new rotation would strand the subject.
func (m *Manager) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
}

func (m *Manager) emit(ctx context.Context, ev queue.SecurityEvent) {
	if m.audit == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	_ = m.audit.Publish(context.WithoutCancel(ctx), ev)
}

func identityOf(u model.User) token.Identity {
	return token.Identity{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

// HashToken returns the SHA-256 hex digest under which a raw refresh token
// is stored. The raw value itself never reaches the database or the logs.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
