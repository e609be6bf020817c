package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/trade-gateway/internal/model"
	"github.com/quantrail/trade-gateway/internal/queue"
	"github.com/quantrail/trade-gateway/internal/repository"
	"github.com/quantrail/trade-gateway/internal/token"
)

// fakeUserStore keeps users in memory with the same error contract as the
// MySQL-backed repository.
type fakeUserStore struct {
	mu     sync.Mutex
	nextID uint64
	users  map[uint64]model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uint64]model.User)}
}

func (s *fakeUserStore) Create(_ context.Context, username, email, passwordHash string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return 0, repository.ErrUsernameExists
		}
	}
	s.nextID++
	s.users[s.nextID] = model.User{
		ID: s.nextID, Username: username, Email: email,
		PasswordHash: passwordHash, IsActive: true, CreatedAt: time.Now(),
	}
	return s.nextID, nil
}

func (s *fakeUserStore) GetByUsername(_ context.Context, username string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, sql.ErrNoRows
}

func (s *fakeUserStore) GetByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, id uint64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.PasswordHash = passwordHash
	s.users[id] = u
	return nil
}

func (s *fakeUserStore) setActive(id uint64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.IsActive = active
	s.users[id] = u
}

// fakeRefreshStore mirrors the transactional semantics of the MySQL token
// repository, including revoke-all-on-reuse.
type fakeRefreshStore struct {
	mu   sync.Mutex
	rows map[string]*model.RefreshToken
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{rows: make(map[string]*model.RefreshToken)}
}

func (s *fakeRefreshStore) Issue(_ context.Context, userID uint64, hash string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[hash] = &model.RefreshToken{UserID: userID, TokenHash: hash, ExpiresAt: exp}
	return nil
}

func (s *fakeRefreshStore) IsActive(_ context.Context, hash string) (model.RefreshToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[hash]
	if !ok {
		return model.RefreshToken{}, false, repository.ErrTokenNotFound
	}
	return *row, !row.IsRevoked() && !row.IsExpired(time.Now().UTC()), nil
}

func (s *fakeRefreshStore) Rotate(_ context.Context, oldHash, newHash string, exp time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[oldHash]
	if !ok {
		return 0, repository.ErrTokenNotFound
	}
	if row.IsRevoked() || row.ReplacedByHash != nil {
		for _, r := range s.rows {
			if r.UserID == row.UserID && r.RevokedAt == nil {
				now := time.Now().UTC()
				r.RevokedAt = &now
			}
		}
		return row.UserID, repository.ErrTokenReused
	}
	if row.IsExpired(time.Now().UTC()) {
		return 0, repository.ErrTokenNotFound
	}
	now := time.Now().UTC()
	row.RevokedAt = &now
	row.ReplacedByHash = &newHash
	s.rows[newHash] = &model.RefreshToken{UserID: row.UserID, TokenHash: newHash, ExpiresAt: exp}
	return row.UserID, nil
}

func (s *fakeRefreshStore) Revoke(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[hash]; ok && row.RevokedAt == nil {
		now := time.Now().UTC()
		row.RevokedAt = &now
	}
	return nil
}

func (s *fakeRefreshStore) RevokeAllForUser(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UserID == userID && r.RevokedAt == nil {
			now := time.Now().UTC()
			r.RevokedAt = &now
		}
	}
	return nil
}

// recordingAuditor captures published security events.
type recordingAuditor struct {
	mu     sync.Mutex
	events []queue.SecurityEvent
}

func (a *recordingAuditor) Publish(_ context.Context, ev queue.SecurityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingAuditor) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *fakeUserStore, *fakeRefreshStore, *recordingAuditor) {
	t.Helper()
	jwt, err := token.NewService("test-access-secret", "test-refresh-secret", 15*time.Minute, 30*24*time.Hour)
	require.NoError(t, err)
	users := newFakeUserStore()
	tokens := newFakeRefreshStore()
	audit := &recordingAuditor{}
	// bcrypt.MinCost keeps the suite fast.
	return NewManager(users, tokens, jwt, audit, 4), users, tokens, audit
}

func TestRegisterThenLoginSameSubject(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	reg, err := m.Register(ctx, "alice", "alice@example.com", "correct-horse-battery")
	require.NoError(t, err)
	assert.Equal(t, "alice", reg.User.Username)
	assert.False(t, reg.User.IsAdmin)
	assert.NotEmpty(t, reg.AccessToken)
	assert.NotEmpty(t, reg.RefreshToken)

	login, err := m.Login(ctx, "alice", "correct-horse-battery")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)
}

func TestLoginFailsUniformly(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err)

	_, err = m.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.Login(ctx, "nobody", "correct-horse-battery")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, "alice", "", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = m.Register(ctx, "", "", "correct-horse-battery")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err)
	_, err = m.Register(ctx, "alice", "", "another-password")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestUsernamesAreCaseSensitive(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, "Alice", "", "correct-horse-battery")
	require.NoError(t, err)

	_, err = m.Login(ctx, "alice", "correct-horse-battery")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.Register(ctx, "alice", "", "correct-horse-battery")
	assert.NoError(t, err)
}

func TestRefreshRotatesAndOldTokenDies(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	reg, err := m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err)

	refreshed, err := m.Refresh(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, reg.User.ID, refreshed.User.ID)

	// The original token is single-use.
	_, err = m.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshReuseRevokesEverySession(t *testing.T) {
	m, _, tokens, audit := newTestManager(t)
	ctx := context.Background()

	reg, err := m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err)
	second, err := m.Login(ctx, "alice", "correct-horse-battery")
	require.NoError(t, err)

	rotated, err := m.Refresh(ctx, reg.RefreshToken)
	require.NoError(t, err)

	// Reusing the already-rotated token is the theft signal: the whole
	// subject must be logged out, successor and second device included.
	_, err = m.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, audit.types(), queue.EventRefreshReused)

	_, active, _ := tokens.IsActive(ctx, HashToken(rotated.RefreshToken))
	assert.False(t, active)
	_, active, _ = tokens.IsActive(ctx, HashToken(second.RefreshToken))
	assert.False(t, active)

	_, err = m.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshRejectsForgedAndUnknownTokens(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Refresh(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Signed by the right class of secret but never issued through the
	// store: the store remains the source of truth.
	jwt, err2 := token.NewService("test-access-secret", "test-refresh-secret", time.Minute, time.Hour)
	require.NoError(t, err2)
	reg, err2 := m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err2)
	orphan, _, err2 := jwt.IssueRefresh(token.Identity{UserID: reg.User.ID, Username: "alice"})
	require.NoError(t, err2)

	_, err = m.Refresh(ctx, orphan)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRevokeAllInvalidatesOutstandingTokens(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	reg, err := m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err)

	require.NoError(t, m.RevokeAll(ctx, reg.User.ID, "test"))

	_, err = m.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLogoutIsIdempotent(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	reg, err := m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, reg.RefreshToken))
	require.NoError(t, m.Logout(ctx, reg.RefreshToken)) // second call: no error
	require.NoError(t, m.Logout(ctx, "never-issued"))
	require.NoError(t, m.Logout(ctx, ""))

	_, err = m.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDisabledAccountCannotAuthenticate(t *testing.T) {
	m, users, _, _ := newTestManager(t)
	ctx := context.Background()

	reg, err := m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err)

	users.setActive(reg.User.ID, false)

	_, err = m.Login(ctx, "alice", "correct-horse-battery")
	assert.ErrorIs(t, err, ErrAccountDisabled)

	_, err = m.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	m, _, _, audit := newTestManager(t)
	ctx := context.Background()

	reg, err := m.Register(ctx, "alice", "", "correct-horse-battery")
	require.NoError(t, err)

	err = m.ChangePassword(ctx, reg.User.ID, "wrong-old", "new-password-123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, m.ChangePassword(ctx, reg.User.ID, "correct-horse-battery", "new-password-123"))
	assert.Contains(t, audit.types(), queue.EventPasswordChanged)

	_, err = m.Login(ctx, "alice", "correct-horse-battery")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Login(ctx, "alice", "new-password-123")
	assert.NoError(t, err)

	_, err = m.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
