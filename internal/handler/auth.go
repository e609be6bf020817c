package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/auth"
	"github.com/quantrail/trade-gateway/internal/config"
	"github.com/quantrail/trade-gateway/internal/middleware"
	"github.com/quantrail/trade-gateway/internal/repository"
)

const refreshCookieName = "refresh_token"

// AuthHandler bundles dependencies for the session endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Sessions *auth.Manager
	Users    *repository.UserRepo
}

func NewAuthHandler(cfg config.Config, sessions *auth.Manager, users *repository.UserRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Sessions: sessions, Users: users}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type userPart struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}
type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func sessionResp(s *auth.Session) authResp {
	return authResp{
		User:    userPart{ID: s.User.ID, Username: s.User.Username, IsAdmin: s.User.IsAdmin},
		Access:  tokenPart{Token: s.AccessToken, Expires: s.AccessExp},
		Refresh: tokenPart{Token: s.RefreshToken, Expires: s.RefreshExp}, // raw back to client, exactly once
	}
}

// Register: create the credential and open its first session.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Sessions.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameTaken):
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
		case errors.Is(err, auth.ErrValidation), errors.Is(err, auth.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		default:
			return storeFailure(c, err)
		}
	}
	h.setRefreshCookie(c, s.RefreshToken, s.RefreshExp)
	return c.JSON(http.StatusCreated, sessionResp(s))
}

// Login: verify the password and return a new pair. Unknown usernames and
// wrong passwords answer identically.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Sessions.Login(ctx, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		case errors.Is(err, auth.ErrAccountDisabled):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
		default:
			return storeFailure(c, err)
		}
	}
	h.setRefreshCookie(c, s.RefreshToken, s.RefreshExp)
	return c.JSON(http.StatusOK, sessionResp(s))
}

// Refresh: rotate the presented refresh token for a new pair. The old token
// is single-use; presenting it again after this call fails with 401.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := h.refreshTokenFrom(c)
	if raw == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "refresh token required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	s, err := h.Sessions.Refresh(ctx, raw)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		case errors.Is(err, auth.ErrAccountDisabled):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
		default:
			return storeFailure(c, err)
		}
	}
	h.setRefreshCookie(c, s.RefreshToken, s.RefreshExp)
	return c.JSON(http.StatusOK, sessionResp(s))
}

// Logout: revoke the presented refresh token. Idempotent; an unknown or
// already revoked token still answers success.
func (h *AuthHandler) Logout(c echo.Context) error {
	raw := h.refreshTokenFrom(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Sessions.Logout(ctx, raw); err != nil {
		return storeFailure(c, err)
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// Me returns the current user's record, read fresh from the store.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		return storeFailure(c, err)
	}
	return c.JSON(http.StatusOK, userPart{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin})
}

// ChangePassword verifies the old password, stores the new one, and revokes
// every refresh token of the subject.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Sessions.ChangePassword(ctx, id, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		case errors.Is(err, auth.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		case errors.Is(err, auth.ErrUnauthorized):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		default:
			return storeFailure(c, err)
		}
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// refreshTokenFrom pulls the raw refresh token from the JSON body, the
// session cookie, or the x-refresh-token header, in that order.
func (h *AuthHandler) refreshTokenFrom(c echo.Context) string {
	var req refreshReq
	_ = c.Bind(&req)
	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		return raw
	}
	if ck, err := c.Cookie(refreshCookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	return strings.TrimSpace(c.Request().Header.Get("x-refresh-token"))
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, raw string, exp time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    raw,
		Path:     "/",
		Domain:   h.Cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.Cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.Cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
