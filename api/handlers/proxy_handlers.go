package handlers

import (
	"io"
	"net/http"
	"strings"

	"talon-console/core/proxy"
	"talon-console/core/utils"
)

const maxProxyBody = 8 << 20

type ProxyHandler struct {
	forwarder *proxy.Forwarder
	logger    *utils.Logger
}

func NewProxyHandler(forwarder *proxy.Forwarder, logger *utils.Logger) *ProxyHandler {
	return &ProxyHandler{forwarder: forwarder, logger: logger}
}

// Forward relays the request to the framework API. Upstream responses pass
// through verbatim; transport failures become a structured offline result.
func (h *ProxyHandler) Forward(upstreamPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			data, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			body = data
		}
		res := h.forwarder.Forward(r.Context(), r.Method, upstreamPath, r.URL.Query(), body, r.Header.Get("Content-Type"))
		if !res.OK {
			writeJSON(w, res.Status, map[string]any{
				"success": false,
				"status":  "offline",
				"error":   string(res.Kind),
				"message": res.Message,
			})
			return
		}
		if res.ContentType != "" {
			w.Header().Set("Content-Type", res.ContentType)
		}
		w.WriteHeader(res.Status)
		_, _ = w.Write(res.Body)
	}
}

// ProxyPermission maps a proxied sub-route to the permission it requires.
// Unknown panels map to "" and are denied outright.
func ProxyPermission(method, subPath string) string {
	subPath = strings.Trim(subPath, "/")
	parts := strings.Split(subPath, "/")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	mutating := method != http.MethodGet && method != http.MethodHead
	switch parts[0] {
	case "modules":
		if mutating {
			return "modules.run"
		}
		return "modules.view"
	case "jobs":
		if mutating || containsSegment(parts, "kill") {
			return "jobs.kill"
		}
		return "jobs.view"
	case "target", "targets":
		if mutating {
			return "target.set"
		}
		return "target.view"
	case "status":
		return "status.view"
	default:
		return ""
	}
}

func containsSegment(parts []string, segment string) bool {
	for _, p := range parts {
		if p == segment {
			return true
		}
	}
	return false
}
