package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/trade-gateway/internal/model"
	"github.com/quantrail/trade-gateway/internal/token"
)

type fakeDirectory struct {
	users map[uint64]model.User
	err   error
}

func (d *fakeDirectory) GetByID(_ context.Context, id uint64) (model.User, error) {
	if d.err != nil {
		return model.User{}, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return u, nil
}

func testTokenService(t *testing.T, accessTTL time.Duration) *token.Service {
	t.Helper()
	svc, err := token.NewService("mw-access-secret", "mw-refresh-secret", accessTTL, time.Hour)
	require.NoError(t, err)
	return svc
}

func do(h echo.MiddlewareFunc, authorize func(*http.Request)) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorize != nil {
		authorize(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := h(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	_ = handler(c)
	return rec
}

func TestRequireAuthAcceptsValidBearer(t *testing.T) {
	svc := testTokenService(t, time.Minute)
	access, _, err := svc.IssueAccess(token.Identity{UserID: 7, Username: "alice"})
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := RequireAuth(svc)(func(c echo.Context) error {
		id, ok := UserID(c)
		assert.True(t, ok)
		assert.Equal(t, uint64(7), id)
		assert.Equal(t, "alice", c.Get(CtxUsername))
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	svc := testTokenService(t, time.Minute)

	cases := map[string]func(*http.Request){
		"missing header": nil,
		"not bearer": func(r *http.Request) {
			r.Header.Set("Authorization", "Basic abc")
		},
		"garbage token": func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not.a.jwt")
		},
	}
	for name, authorize := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(RequireAuth(svc), authorize)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireAuthRejectsExpiredAndForeignTokens(t *testing.T) {
	expired := testTokenService(t, -time.Minute)
	access, _, err := expired.IssueAccess(token.Identity{UserID: 7})
	require.NoError(t, err)

	svc := testTokenService(t, time.Minute)
	rec := do(RequireAuth(svc), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+access)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Refresh tokens are not access tokens, even from the same service.
	refresh, _, err := svc.IssueRefresh(token.Identity{UserID: 7})
	require.NoError(t, err)
	rec = do(RequireAuth(svc), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+refresh)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// adminRequest runs RequireAuth then RequireAdmin, the way the router chains
// them, with the given access token and directory state.
func adminRequest(t *testing.T, svc *token.Service, access string, dir UserDirectory) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := RequireAuth(svc)(RequireAdmin(dir)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}))
	_ = handler(c)
	return rec
}

func TestRequireAdminReReadsTheRow(t *testing.T) {
	svc := testTokenService(t, time.Minute)
	dir := &fakeDirectory{users: map[uint64]model.User{
		1: {ID: 1, Username: "alice", IsActive: true},
	}}

	// Token minted before the promotion, so its admin claim is false.
	access, _, err := svc.IssueAccess(token.Identity{UserID: 1, Username: "alice", IsAdmin: false})
	require.NoError(t, err)

	rec := adminRequest(t, svc, access, dir)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Promotion takes effect on the very next request; the stale claim in
	// the still-live token does not matter.
	u := dir.users[1]
	u.IsAdmin = true
	dir.users[1] = u
	rec = adminRequest(t, svc, access, dir)
	assert.Equal(t, http.StatusOK, rec.Code)

	// And a demotion bites immediately, even with an admin-claim token.
	adminToken, _, err := svc.IssueAccess(token.Identity{UserID: 1, Username: "alice", IsAdmin: true})
	require.NoError(t, err)
	u.IsAdmin = false
	dir.users[1] = u
	rec = adminRequest(t, svc, adminToken, dir)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminGoneAndDisabledSubjects(t *testing.T) {
	svc := testTokenService(t, time.Minute)
	access, _, err := svc.IssueAccess(token.Identity{UserID: 1, Username: "alice", IsAdmin: true})
	require.NoError(t, err)

	// Subject deleted after the token was issued.
	rec := adminRequest(t, svc, access, &fakeDirectory{users: map[uint64]model.User{}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Subject banned after the token was issued.
	rec = adminRequest(t, svc, access, &fakeDirectory{users: map[uint64]model.User{
		1: {ID: 1, Username: "alice", IsAdmin: true, IsActive: false},
	}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdminStoreErrorIsNotForbidden(t *testing.T) {
	svc := testTokenService(t, time.Minute)
	access, _, err := svc.IssueAccess(token.Identity{UserID: 1, IsAdmin: true})
	require.NoError(t, err)

	rec := adminRequest(t, svc, access, &fakeDirectory{err: errors.New("connection refused")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireAdminWithoutAuthContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := RequireAdmin(&fakeDirectory{})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
