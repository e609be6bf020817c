package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/auth"
	"github.com/quantrail/trade-gateway/internal/queue"
	"github.com/quantrail/trade-gateway/internal/repository"
)

// AdminHandler exposes the admin console operations. Every route is behind
// RequireAuth and RequireAdmin; the gate re-checks the is_admin column per
// request, so revoking admin rights takes effect immediately.
type AdminHandler struct {
	Users    *repository.UserRepo
	Sessions *auth.Manager
	Audit    func(ev queue.SecurityEvent)
}

func NewAdminHandler(users *repository.UserRepo, sessions *auth.Manager, audit func(ev queue.SecurityEvent)) *AdminHandler {
	return &AdminHandler{Users: users, Sessions: sessions, Audit: audit}
}

func (h *AdminHandler) emit(ev queue.SecurityEvent) {
	if h.Audit != nil {
		ev.OccurredAt = time.Now().UTC()
		h.Audit(ev)
	}
}

type adminUserPart struct {
	ID        uint64    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ListUsers returns a page of users.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, cancel := reqCtx(c)
	defer cancel()

	users, err := h.Users.List(ctx, limit, offset)
	if err != nil {
		return storeFailure(c, err)
	}
	out := make([]adminUserPart, 0, len(users))
	for _, u := range users {
		out = append(out, adminUserPart{
			ID: u.ID, Username: u.Username, Email: u.Email,
			IsAdmin: u.IsAdmin, IsActive: u.IsActive, CreatedAt: u.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"users": out})
}

// Promote grants admin rights to a user.
func (h *AdminHandler) Promote(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Users.GetByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return storeFailure(c, err)
	}
	if err := h.Users.SetAdmin(ctx, id, true); err != nil {
		return storeFailure(c, err)
	}
	h.emit(queue.SecurityEvent{Type: queue.EventAdminPromoted, UserID: id, IP: c.RealIP()})
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// Ban disables an account and revokes all of its refresh tokens. The access
// token may outlive this by a few minutes, but the admin gate and any fresh
// database read will already see the account as disabled.
func (h *AdminHandler) Ban(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Users.GetByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return storeFailure(c, err)
	}
	if err := h.Users.SetActive(ctx, id, false); err != nil {
		return storeFailure(c, err)
	}
	if err := h.Sessions.RevokeAll(ctx, id, "account banned by admin"); err != nil {
		return storeFailure(c, err)
	}
	h.emit(queue.SecurityEvent{Type: queue.EventAdminBanned, UserID: id, IP: c.RealIP()})
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func pathID(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}
