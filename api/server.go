package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"talon-console/api/handlers"
	"talon-console/config"
	"talon-console/core/auth"
	"talon-console/core/perm"
	"talon-console/core/proxy"
	"talon-console/core/store"
	"talon-console/core/utils"
)

type Server struct {
	cfg        *config.AppConfig
	router     *mux.Router
	httpServer *http.Server
	logger     *utils.Logger

	users     store.UsersStore
	templates store.TemplatesStore
	audits    store.AuditStore

	tokens       *auth.TokenIssuer
	resolver     *handlers.Resolver
	forwarder    *proxy.Forwarder
	health       *proxy.HealthMonitor
	loginLimiter *requestLimiter
}

func NewServer(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*Server, error) {
	users := store.NewUsersStore(db)
	templates := store.NewTemplatesStore(db)
	audits := store.NewAuditStore(db)
	forwarder := proxy.NewForwarder(cfg.Upstream, logger)
	health, err := proxy.NewHealthMonitor(forwarder, cfg.Upstream.HealthSchedule, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:          cfg,
		router:       mux.NewRouter(),
		logger:       logger,
		users:        users,
		templates:    templates,
		audits:       audits,
		tokens:       auth.NewTokenIssuer(cfg.SessionSecret, cfg.EffectiveSessionTTL()),
		resolver:     handlers.NewResolver(templates),
		forwarder:    forwarder,
		health:       health,
		loginLimiter: newLimiter(5, time.Minute),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Start() error {
	s.health.Start()
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	if s.cfg.TLSEnabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")

	authHandler := handlers.NewAuthHandler(s.cfg, s.users, s.resolver, s.tokens, s.audits, s.logger)
	usersHandler := handlers.NewUsersHandler(s.cfg, s.users, s.audits, s.logger)
	templatesHandler := handlers.NewTemplatesHandler(s.cfg, s.templates, s.audits)
	settingsHandler := handlers.NewSettingsHandler(s.cfg, s.users, s.forwarder, s.audits, s.logger)
	proxyHandler := handlers.NewProxyHandler(s.forwarder, s.logger)
	auditHandler := handlers.NewAuditHandler(s.audits)

	apiRouter := s.router.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/auth/login", s.rateLimitMiddleware(authHandler.Login)).Methods("POST")
	apiRouter.HandleFunc("/auth/verify-2fa", s.rateLimitMiddleware(authHandler.VerifyTwoFA)).Methods("POST")
	apiRouter.HandleFunc("/auth/me", s.withAuth(authHandler.Me)).Methods("GET")

	// Administrative surfaces are role-gated first; a permission override
	// alone must not open them to lower roles.
	manageUsers := func(h http.HandlerFunc) http.HandlerFunc {
		return s.withAuth(s.requireRole(perm.RoleAdmin, perm.RoleSysadmin)(s.requirePermission(perm.PermUsersManage)(h)))
	}
	manageTemplates := func(h http.HandlerFunc) http.HandlerFunc {
		return s.withAuth(s.requireRole(perm.RoleSysadmin)(s.requirePermission(perm.PermACLManage)(h)))
	}

	apiRouter.HandleFunc("/users", manageUsers(usersHandler.List)).Methods("GET")
	apiRouter.HandleFunc("/users", manageUsers(usersHandler.Create)).Methods("POST")
	apiRouter.HandleFunc("/users/{id:[0-9]+}", manageUsers(usersHandler.Update)).Methods("PUT")
	apiRouter.HandleFunc("/users/{id:[0-9]+}", manageUsers(usersHandler.Delete)).Methods("DELETE")

	apiRouter.HandleFunc("/acl-templates", manageTemplates(templatesHandler.List)).Methods("GET")
	apiRouter.HandleFunc("/acl-templates", manageTemplates(templatesHandler.Create)).Methods("POST")
	apiRouter.HandleFunc("/acl-templates/{id:[0-9]+}", manageTemplates(templatesHandler.Get)).Methods("GET")
	apiRouter.HandleFunc("/acl-templates/{id:[0-9]+}", manageTemplates(templatesHandler.Update)).Methods("PUT")
	apiRouter.HandleFunc("/acl-templates/{id:[0-9]+}", manageTemplates(templatesHandler.Delete)).Methods("DELETE")

	apiRouter.HandleFunc("/settings/password", s.withAuth(settingsHandler.ChangePassword)).Methods("PUT")
	apiRouter.HandleFunc("/settings/2fa/setup", s.withAuth(settingsHandler.TwoFASetup)).Methods("POST")
	apiRouter.HandleFunc("/settings/2fa/verify", s.withAuth(settingsHandler.TwoFAVerify)).Methods("POST")
	apiRouter.HandleFunc("/settings/2fa", s.withAuth(settingsHandler.TwoFADisable)).Methods("DELETE")
	apiRouter.HandleFunc("/settings/upstream-key", s.withAuth(s.requireRole(perm.RoleSysadmin)(settingsHandler.RotateUpstreamKey))).Methods("PUT")

	apiRouter.HandleFunc("/upstream/health", s.withAuth(s.requirePermission(perm.PermStatusView)(s.upstreamHealth))).Methods("GET")
	apiRouter.HandleFunc("/audit", s.withAuth(s.requireRole(perm.RoleAdmin, perm.RoleSysadmin)(auditHandler.List))).Methods("GET")

	apiRouter.PathPrefix("/proxy/").Handler(http.HandlerFunc(s.withAuth(s.requireProxyPermission(proxyHandler.Forward))))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (s *Server) upstreamHealth(w http.ResponseWriter, r *http.Request) {
	hs := s.health.Check(r.Context())
	status := http.StatusOK
	if !hs.Online {
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": hs.Online, "upstream": hs})
}
