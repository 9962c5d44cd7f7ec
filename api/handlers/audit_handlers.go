package handlers

import (
	"net/http"
	"strconv"

	"talon-console/core/store"
)

type AuditHandler struct {
	audits store.AuditStore
}

func NewAuditHandler(audits store.AuditStore) *AuditHandler {
	return &AuditHandler{audits: audits}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.audits.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":        e.ID,
			"actor":     e.Actor,
			"action":    e.Action,
			"detail":    e.Detail,
			"clientIp":  e.ClientIP,
			"createdAt": e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": out})
}
