package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"talon-console/api/handlers"
	"talon-console/core/auth"
	"talon-console/core/perm"
	"talon-console/core/store"
)

const (
	loginLimiterTTL             = 10 * time.Minute
	loginLimiterCleanupInterval = time.Minute
	loginLimiterMaxBuckets      = 10000
)

type requestLimiter struct {
	mu              sync.Mutex
	buckets         map[string]*tokenBucket
	capacity        int
	refill          time.Duration
	ttl             time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	maxBuckets      int
}

type tokenBucket struct {
	tokens   int
	last     time.Time
	lastSeen time.Time
}

func newLimiter(capacity int, refill time.Duration) *requestLimiter {
	return &requestLimiter{
		buckets:         make(map[string]*tokenBucket),
		capacity:        capacity,
		refill:          refill,
		ttl:             loginLimiterTTL,
		cleanupInterval: loginLimiterCleanupInterval,
		maxBuckets:      loginLimiterMaxBuckets,
	}
}

func (l *requestLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.cleanupInterval > 0 && now.Sub(l.lastCleanup) >= l.cleanupInterval {
		l.cleanup(now)
		l.lastCleanup = now
	}
	tb, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &tokenBucket{tokens: l.capacity - 1, last: now, lastSeen: now}
		return true
	}
	tb.lastSeen = now
	if now.Sub(tb.last) >= l.refill {
		tb.tokens = l.capacity
		tb.last = now
	}
	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

func (l *requestLimiter) cleanup(now time.Time) {
	if l.ttl > 0 {
		for key, tb := range l.buckets {
			if now.Sub(tb.lastSeen) > l.ttl {
				delete(l.buckets, key)
			}
		}
	}
	if l.maxBuckets > 0 && len(l.buckets) > l.maxBuckets {
		for len(l.buckets) > l.maxBuckets {
			oldestKey := ""
			var oldest time.Time
			for key, tb := range l.buckets {
				if oldestKey == "" || tb.lastSeen.Before(oldest) {
					oldestKey = key
					oldest = tb.lastSeen
				}
			}
			if oldestKey == "" {
				break
			}
			delete(l.buckets, oldestKey)
		}
	}
}

// rateLimitMiddleware buckets failed-login pressure by client address and
// by target username, so rotating source addresses does not buy unlimited
// guesses against one account.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var cred struct {
			Username string `json:"username"`
		}
		_ = json.Unmarshal(body, &cred)
		username := strings.ToLower(strings.TrimSpace(cred.Username))

		ip := strings.ToLower(handlers.ClientIP(r, s.cfg.TrustedProxies))
		if !s.loginLimiter.allow("ip|" + ip) {
			writeJSONError(w, http.StatusTooManyRequests, "too many attempts, retry later")
			return
		}
		if username != "" && !s.loginLimiter.allow("user|"+username) {
			writeJSONError(w, http.StatusTooManyRequests, "too many attempts, retry later")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if s.cfg.TLSEnabled {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(s.cfg.AllowedOrigin)
		if origin != "" && r.Header.Get("Origin") == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// logUserHolder is planted by loggingMiddleware and filled in by withAuth
// once the session is verified, so the access log can name the caller even
// though withAuth derives its own request.
type logUserHolder struct {
	username string
}

type logUserKey struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		holder := &logUserHolder{}
		r = r.WithContext(context.WithValue(r.Context(), logUserKey{}, holder))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observeRequest(r.Method, rec.status, time.Since(start))
		if s.logger != nil {
			user := holder.username
			if user == "" {
				user = "-"
			}
			s.logger.Printf("RESP %s %s user=%s status=%d dur=%s bytes=%d", r.Method, r.URL.Path, user, rec.status, time.Since(start), rec.size)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// withAuth verifies the bearer session token and loads the user fresh from
// the store. Tokens are stateless, so the lookup is the only point where a
// deleted account's still-valid token is neutralized.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := s.tokens.ParseSession(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, err := s.users.Get(r.Context(), claims.UserID)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if h, ok := r.Context().Value(logUserKey{}).(*logUserHolder); ok {
			h.username = user.Username
		}
		if user.RequirePasswordChange && !allowedDuringPasswordChange(r.URL.Path) {
			writeJSONError(w, http.StatusForbidden, "password change required")
			return
		}
		ctx := context.WithValue(r.Context(), auth.UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// The bootstrap account (and any reset account) may only inspect itself and
// rotate its password until the forced change is done.
func allowedDuringPasswordChange(path string) bool {
	return path == "/api/auth/me" || path == "/api/settings/password"
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// requireRole gates by role. Sysadmins pass regardless of the listed roles.
func (s *Server) requireRole(roles ...perm.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			user, ok := r.Context().Value(auth.UserContextKey).(*store.User)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if user.Role == string(perm.RoleSysadmin) {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if user.Role == string(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if s.logger != nil {
				s.logger.Printf("ROLE fail %s %s user=%s role=%s", r.Method, r.URL.Path, user.Username, user.Role)
			}
			writeJSONError(w, http.StatusForbidden, "insufficient role")
		}
	}
}

// requirePermission resolves the caller's effective permissions fresh and
// checks one "panel.action" key. The key is safe to echo in the denial.
func (s *Server) requirePermission(key string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			user, ok := r.Context().Value(auth.UserContextKey).(*store.User)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			doc := s.resolver.Resolve(r.Context(), user)
			if !doc.AllowedKey(key) {
				if s.logger != nil {
					s.logger.Printf("PERM fail %s %s user=%s need=%s", r.Method, r.URL.Path, user.Username, key)
				}
				writeJSONError(w, http.StatusForbidden, "missing permission: "+key)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// requireProxyPermission derives the needed permission from the proxied
// sub-route and method before any forwarding happens.
func (s *Server) requireProxyPermission(next func(string) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value(auth.UserContextKey).(*store.User)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		subPath := strings.TrimPrefix(r.URL.Path, "/api/proxy")
		key := handlers.ProxyPermission(r.Method, subPath)
		if key == "" {
			writeJSONError(w, http.StatusForbidden, "unknown proxy route")
			return
		}
		doc := s.resolver.Resolve(r.Context(), user)
		if !doc.AllowedKey(key) {
			if s.logger != nil {
				s.logger.Printf("PERM fail %s %s user=%s need=%s", r.Method, r.URL.Path, user.Username, key)
			}
			writeJSONError(w, http.StatusForbidden, "missing permission: "+key)
			return
		}
		next(subPath).ServeHTTP(w, r)
	}
}
