package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"talon-console/config"
	"talon-console/core/auth"
	"talon-console/core/store"
	"talon-console/core/utils"
)

const invalidCredentialsMsg = "invalid credentials"

type AuthHandler struct {
	cfg      *config.AppConfig
	users    store.UsersStore
	resolver *Resolver
	tokens   *auth.TokenIssuer
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, resolver *Resolver, tokens *auth.TokenIssuer, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, resolver: resolver, tokens: tokens, audits: audits, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.users.FindByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn the same hashing work as a real check so the
			// response time does not reveal whether the name exists.
			auth.VerifyDummy(req.Password, h.cfg.Pepper)
			h.auditLogin(r, req.Username, false)
			writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	stored, err := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ok, err := auth.VerifyPassword(req.Password, h.cfg.Pepper, stored)
	if err != nil || !ok {
		h.auditLogin(r, req.Username, false)
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}

	if user.TOTPEnabled {
		challenge, err := h.tokens.IssueTwoFAChallenge(user.ID, user.Username, user.Role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":             true,
			"requireSecondFactor": true,
			"shortLivedToken":     challenge,
		})
		return
	}
	h.finishLogin(w, r, user)
}

func (h *AuthHandler) VerifyTwoFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShortLivedToken string `json:"shortLivedToken"`
		Code            string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	claims, err := h.tokens.ParseTwoFAChallenge(req.ShortLivedToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	user, err := h.users.Get(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	if !user.TOTPEnabled || user.TOTPSecret == "" {
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	secret, err := auth.DecryptTOTPSecret(user.TOTPSecret, h.cfg.Pepper)
	if err != nil {
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	ok, err := auth.VerifyTOTP(secret, req.Code, time.Now(), auth.DefaultTOTPConfig())
	if err != nil || !ok {
		h.auditLogin(r, user.Username, false)
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	h.finishLogin(w, r, user)
}

func (h *AuthHandler) finishLogin(w http.ResponseWriter, r *http.Request, user *store.User) {
	token, err := h.tokens.IssueSession(user.ID, user.Username, user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.auditLogin(r, user.Username, true)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user": map[string]any{
			"id":                    user.ID,
			"username":              user.Username,
			"role":                  user.Role,
			"requirePasswordChange": user.RequirePasswordChange,
		},
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(auth.UserContextKey).(*store.User)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": map[string]any{
			"id":                    user.ID,
			"username":              user.Username,
			"email":                 user.Email,
			"role":                  user.Role,
			"aclTemplateId":         user.ACLTemplateID,
			"secondFactorEnabled":   user.TOTPEnabled,
			"requirePasswordChange": user.RequirePasswordChange,
			"permissions":           h.resolver.Resolve(r.Context(), user),
		},
	})
}

func (h *AuthHandler) auditLogin(r *http.Request, username string, ok bool) {
	if h.audits == nil {
		return
	}
	action := "auth.login"
	if !ok {
		action = "auth.login_failed"
	}
	_ = h.audits.Log(r.Context(), store.AuditEntry{
		Actor:    username,
		Action:   action,
		ClientIP: ClientIP(r, h.cfg.TrustedProxies),
	})
}

// ClientIP extracts the remote address. Forwarding headers are honored
// only when the direct peer is a configured trusted proxy, since any
// client can set X-Forwarded-For itself.
func ClientIP(r *http.Request, trustedProxies []string) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.TrimSpace(host)
	if !isTrustedProxy(host, trustedProxies) {
		return host
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		for _, part := range strings.Split(fwd, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return host
}

func isTrustedProxy(ip string, trusted []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, raw := range trusted {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if strings.Contains(val, "/") {
			if _, block, err := net.ParseCIDR(val); err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if parsed.Equal(net.ParseIP(val)) {
			return true
		}
	}
	return false
}
