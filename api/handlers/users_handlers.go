package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"talon-console/config"
	"talon-console/core/auth"
	"talon-console/core/perm"
	"talon-console/core/store"
	"talon-console/core/utils"
)

type UsersHandler struct {
	cfg    *config.AppConfig
	users  store.UsersStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewUsersHandler(cfg *config.AppConfig, users store.UsersStore, audits store.AuditStore, logger *utils.Logger) *UsersHandler {
	return &UsersHandler{cfg: cfg, users: users, audits: audits, logger: logger}
}

type userPayload struct {
	ID                    int64           `json:"id"`
	Username              string          `json:"username"`
	Email                 string          `json:"email"`
	Role                  string          `json:"role"`
	ACLTemplateID         *int64          `json:"aclTemplateId"`
	Permissions           json.RawMessage `json:"permissions,omitempty"`
	SecondFactorEnabled   bool            `json:"secondFactorEnabled"`
	RequirePasswordChange bool            `json:"requirePasswordChange"`
}

func toPayload(u *store.User) userPayload {
	return userPayload{
		ID:                    u.ID,
		Username:              u.Username,
		Email:                 u.Email,
		Role:                  u.Role,
		ACLTemplateID:         u.ACLTemplateID,
		Permissions:           u.PermsJSON,
		SecondFactorEnabled:   u.TOTPEnabled,
		RequirePasswordChange: u.RequirePasswordChange,
	}
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]userPayload, 0, len(users))
	for i := range users {
		out = append(out, toPayload(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": out})
}

func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := r.Context().Value(auth.UserContextKey).(*store.User)
	var req struct {
		Username      string          `json:"username"`
		Email         string          `json:"email"`
		Password      string          `json:"password"`
		Role          string          `json:"role"`
		ACLTemplateID *int64          `json:"aclTemplateId"`
		Permissions   json.RawMessage `json:"permissions"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := utils.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := perm.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if role == perm.RoleSysadmin && actor.Role != string(perm.RoleSysadmin) {
		writeError(w, http.StatusForbidden, "only a sysadmin may create a sysadmin")
		return
	}
	if req.Permissions != nil {
		if _, err := perm.ParseDocument(req.Permissions); err != nil {
			writeError(w, http.StatusBadRequest, "invalid permission document")
			return
		}
	}
	hash, err := auth.HashPassword(req.Password, h.cfg.Pepper)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	id, err := h.users.Create(r.Context(), &store.User{
		Username:      req.Username,
		Email:         req.Email,
		PasswordHash:  hash.Hash,
		Salt:          hash.Salt,
		Role:          string(role),
		ACLTemplateID: req.ACLTemplateID,
		PermsJSON:     req.Permissions,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, actor.Username, "users.create", req.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor := r.Context().Value(auth.UserContextKey).(*store.User)
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	target, err := h.users.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if target.Role == string(perm.RoleSysadmin) && actor.Role != string(perm.RoleSysadmin) {
		writeError(w, http.StatusForbidden, "only a sysadmin may modify a sysadmin")
		return
	}

	var req struct {
		Email         string          `json:"email"`
		Role          string          `json:"role"`
		ACLTemplateID *int64          `json:"aclTemplateId"`
		Permissions   json.RawMessage `json:"permissions"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	role, err := perm.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if role == perm.RoleSysadmin && actor.Role != string(perm.RoleSysadmin) {
		writeError(w, http.StatusForbidden, "only a sysadmin may grant the sysadmin role")
		return
	}
	if req.Permissions != nil {
		if _, err := perm.ParseDocument(req.Permissions); err != nil {
			writeError(w, http.StatusBadRequest, "invalid permission document")
			return
		}
	}

	target.Email = req.Email
	target.Role = string(role)
	target.ACLTemplateID = req.ACLTemplateID
	target.PermsJSON = req.Permissions
	if err := h.users.Update(r.Context(), target); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, actor.Username, "users.update", target.Username)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": toPayload(target)})
}

func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := r.Context().Value(auth.UserContextKey).(*store.User)
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if id == actor.ID {
		writeError(w, http.StatusForbidden, "cannot delete your own account")
		return
	}
	target, err := h.users.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if target.Role == string(perm.RoleSysadmin) && actor.Role != string(perm.RoleSysadmin) {
		writeError(w, http.StatusForbidden, "only a sysadmin may delete a sysadmin")
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, actor.Username, "users.delete", target.Username)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *UsersHandler) audit(r *http.Request, actor, action, detail string) {
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

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
