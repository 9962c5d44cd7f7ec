package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"talon-console/config"
	"talon-console/core/auth"
	"talon-console/core/perm"
	"talon-console/core/store"
)

type TemplatesHandler struct {
	cfg       *config.AppConfig
	templates store.TemplatesStore
	audits    store.AuditStore
}

func NewTemplatesHandler(cfg *config.AppConfig, templates store.TemplatesStore, audits store.AuditStore) *TemplatesHandler {
	return &TemplatesHandler{cfg: cfg, templates: templates, audits: audits}
}

type templatePayload struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Document  json.RawMessage `json:"document"`
	CreatedAt string          `json:"createdAt"`
}

func toTemplatePayload(t *store.ACLTemplate) templatePayload {
	return templatePayload{
		ID:        t.ID,
		Name:      t.Name,
		Document:  t.Document,
		CreatedAt: t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]templatePayload, 0, len(templates))
	for i := range templates {
		out = append(out, toTemplatePayload(&templates[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "templates": out})
}

func (h *TemplatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.templates.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "template": toTemplatePayload(t)})
}

func (h *TemplatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := r.Context().Value(auth.UserContextKey).(*store.User)
	name, doc, ok := h.decodeTemplate(w, r)
	if !ok {
		return
	}
	id, err := h.templates.Create(r.Context(), name, doc)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "template name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, actor.Username, "acl.create", name)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}

func (h *TemplatesHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor := r.Context().Value(auth.UserContextKey).(*store.User)
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	name, doc, ok := h.decodeTemplate(w, r)
	if !ok {
		return
	}
	if err := h.templates.Update(r.Context(), id, name, doc); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "template not found")
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "template name already exists")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	h.audit(r, actor.Username, "acl.update", name)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *TemplatesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := r.Context().Value(auth.UserContextKey).(*store.User)
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.templates.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, actor.Username, "acl.delete", "")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *TemplatesHandler) decodeTemplate(w http.ResponseWriter, r *http.Request) (string, json.RawMessage, bool) {
	var req struct {
		Name     string          `json:"name"`
		Document json.RawMessage `json:"document"`
	}
	if !decodeBody(w, r, &req) {
		return "", nil, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "template name is required")
		return "", nil, false
	}
	if _, err := perm.ParseDocument(req.Document); err != nil {
		writeError(w, http.StatusBadRequest, "invalid permission document")
		return "", nil, false
	}
	return req.Name, req.Document, true
}

func (h *TemplatesHandler) audit(r *http.Request, actor, action, detail string) {
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
