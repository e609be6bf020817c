package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/cryptox"
	"github.com/quantrail/trade-gateway/internal/middleware"
	"github.com/quantrail/trade-gateway/internal/model"
	"github.com/quantrail/trade-gateway/internal/repository"
)

// ProfileHandler manages broker credentials. Plaintext values exist only
// inside a request: they arrive in the body, are sealed with the master key
// before touching the store, and leave only in masked form.
type ProfileHandler struct {
	Profiles  *repository.ProfileRepo
	MasterKey []byte
}

func NewProfileHandler(profiles *repository.ProfileRepo, masterKey []byte) *ProfileHandler {
	return &ProfileHandler{Profiles: profiles, MasterKey: masterKey}
}

type brokerProfileReq struct {
	BrokerName string `json:"broker_name"`
	APIKey     string `json:"api_key"`
	ClientCode string `json:"client_code"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret"`
}

type brokerProfileResp struct {
	BrokerName string `json:"broker_name"`
	APIKey     string `json:"api_key"`     // masked
	ClientCode string `json:"client_code"` // masked
	HasSecrets bool   `json:"has_secrets"`
}

// Save encrypts and upserts the caller's broker credentials.
func (h *ProfileHandler) Save(c echo.Context) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req brokerProfileReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.BrokerName = strings.TrimSpace(req.BrokerName)
	if req.BrokerName == "" || req.APIKey == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "broker_name and api_key required"})
	}

	profile := model.BrokerProfile{UserID: id, BrokerName: req.BrokerName}
	var err error
	if profile.APIKeyEnc, err = cryptox.EncryptSecret(req.APIKey, h.MasterKey); err != nil {
		return storeFailure(c, err)
	}
	if profile.ClientCodeEnc, err = cryptox.EncryptSecret(req.ClientCode, h.MasterKey); err != nil {
		return storeFailure(c, err)
	}
	if profile.PasswordEnc, err = cryptox.EncryptSecret(req.Password, h.MasterKey); err != nil {
		return storeFailure(c, err)
	}
	if profile.TOTPEnc, err = cryptox.EncryptSecret(req.TOTPSecret, h.MasterKey); err != nil {
		return storeFailure(c, err)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Profiles.Upsert(ctx, profile); err != nil {
		return storeFailure(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// Get returns the caller's broker profile with every secret masked. The
// decrypt step also proves the stored ciphertext still authenticates under
// the master key; tampered rows fail closed instead of surfacing garbage.
func (h *ProfileHandler) Get(c echo.Context) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	p, err := h.Profiles.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no broker profile"})
		}
		return storeFailure(c, err)
	}

	apiKey, err := cryptox.DecryptSecret(p.APIKeyEnc, h.MasterKey)
	if err != nil {
		c.Logger().Errorf("broker profile decrypt failed for user %d: %v", id, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	clientCode, err := cryptox.DecryptSecret(p.ClientCodeEnc, h.MasterKey)
	if err != nil {
		c.Logger().Errorf("broker profile decrypt failed for user %d: %v", id, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	return c.JSON(http.StatusOK, brokerProfileResp{
		BrokerName: p.BrokerName,
		APIKey:     cryptox.Mask(apiKey, cryptox.MaskDefault),
		ClientCode: cryptox.Mask(clientCode, cryptox.MaskDefault),
		HasSecrets: p.PasswordEnc != "" && p.TOTPEnc != "",
	})
}
