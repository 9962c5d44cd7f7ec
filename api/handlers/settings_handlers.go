package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"talon-console/config"
	"talon-console/core/auth"
	"talon-console/core/proxy"
	"talon-console/core/store"
	"talon-console/core/utils"
)

type SettingsHandler struct {
	cfg       *config.AppConfig
	users     store.UsersStore
	forwarder *proxy.Forwarder
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewSettingsHandler(cfg *config.AppConfig, users store.UsersStore, forwarder *proxy.Forwarder, audits store.AuditStore, logger *utils.Logger) *SettingsHandler {
	return &SettingsHandler{cfg: cfg, users: users, forwarder: forwarder, audits: audits, logger: logger}
}

func (h *SettingsHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(auth.UserContextKey).(*store.User)
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	stored, err := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ok, err := auth.VerifyPassword(req.CurrentPassword, h.cfg.Pepper, stored)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	if err := utils.ValidatePassword(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewPassword == req.CurrentPassword {
		writeError(w, http.StatusBadRequest, "new password must differ from the current one")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword, h.cfg.Pepper)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), user.ID, hash.Hash, hash.Salt, false); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, user.Username, "settings.password_change", "")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// TwoFASetup generates a fresh secret, stores it disabled, and returns the
// provisioning URI and QR image. The secret only becomes active after the
// user proves a correct code via TwoFAVerify.
func (h *SettingsHandler) TwoFASetup(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(auth.UserContextKey).(*store.User)
	secret, err := auth.GenerateTOTPSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	enc, err := auth.EncryptTOTPSecret(secret, h.cfg.Pepper)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.users.SetTOTP(r.Context(), user.ID, enc, false); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	uri := auth.BuildTOTPProvisioningURI("Talon Console", user.Username, secret)
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"secret":  secret,
		"uri":     uri,
		"qr":      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

func (h *SettingsHandler) TwoFAVerify(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(auth.UserContextKey).(*store.User)
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if user.TOTPSecret == "" {
		writeError(w, http.StatusBadRequest, "second factor setup has not been started")
		return
	}
	secret, err := auth.DecryptTOTPSecret(user.TOTPSecret, h.cfg.Pepper)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ok, err := auth.VerifyTOTP(secret, req.Code, time.Now(), auth.DefaultTOTPConfig())
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "invalid code")
		return
	}
	if err := h.users.SetTOTP(r.Context(), user.ID, user.TOTPSecret, true); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, user.Username, "settings.2fa_enabled", "")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *SettingsHandler) TwoFADisable(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(auth.UserContextKey).(*store.User)
	var req struct {
		CurrentPassword string `json:"currentPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	stored, err := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ok, err := auth.VerifyPassword(req.CurrentPassword, h.cfg.Pepper, stored)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	if err := h.users.SetTOTP(r.Context(), user.ID, "", false); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, user.Username, "settings.2fa_disabled", "")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RotateUpstreamKey swaps the shared framework credential. The forwarder
// probes the upstream with the candidate key first and rolls back if the
// upstream rejects it as unauthenticated.
func (h *SettingsHandler) RotateUpstreamKey(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(auth.UserContextKey).(*store.User)
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "apiKey is required")
		return
	}
	if err := h.forwarder.Rotate(r.Context(), req.APIKey); err != nil {
		if errors.Is(err, proxy.ErrKeyRejected) {
			writeError(w, http.StatusBadRequest, "upstream rejected the new api key; previous key kept")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.audit(r, user.Username, "settings.upstream_key_rotated", "")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *SettingsHandler) audit(r *http.Request, actor, action, detail string) {
	if h.audits == nil {
		return
	}
	_ = h.audits.Log(r.Context(), store.AuditEntry{
		Actor:    actor,
		Action:   action,
		Detail:   detail,
		ClientIP: ClientIP(r, h.cfg.TrustedProxies),
	})
}
