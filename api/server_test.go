package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"talon-console/config"
	"talon-console/core/auth"
	"talon-console/core/store"
	"talon-console/core/utils"
)

const (
	testPepper   = "test-pepper"
	testPassword = "Password123456"
)

func newTestServer(t *testing.T, upstreamURL string) (*Server, store.UsersStore, store.TemplatesStore) {
	t.Helper()
	return newTestServerWithLogger(t, upstreamURL, nil)
}

func newTestServerWithLogger(t *testing.T, upstreamURL string, logger *utils.Logger) (*Server, store.UsersStore, store.TemplatesStore) {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:      "sqlite",
		DBPath:        ":memory:",
		AppEnv:        "dev",
		SessionSecret: "test-session-secret",
		Pepper:        testPepper,
		Upstream: config.UpstreamConfig{
			BaseURL:        upstreamURL,
			APIKey:         "upstream-key",
			TimeoutSec:     2,
			HealthPath:     "/api/status",
			HealthSchedule: "@every 1h",
		},
	}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(context.Background(), db, cfg, nil); err != nil {
		t.Fatal(err)
	}
	srv, err := NewServer(cfg, db, logger)
	if err != nil {
		t.Fatal(err)
	}
	return srv, store.NewUsersStore(db), store.NewTemplatesStore(db)
}

func createUser(t *testing.T, users store.UsersStore, username, role string) *store.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword, testPepper)
	if err != nil {
		t.Fatal(err)
	}
	id, err := users.Create(context.Background(), &store.User{
		Username:     username,
		PasswordHash: hash.Hash,
		Salt:         hash.Salt,
		Role:         role,
	})
	if err != nil {
		t.Fatal(err)
	}
	u, err := users.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func login(t *testing.T, srv *Server, username, password string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
}

func TestLoginAndMe(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	createUser(t, users, "alice", "pentester")

	rec, body := login(t, srv, "alice", testPassword)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("no token in response: %v", body)
	}

	rec, body = doJSON(t, srv, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me failed: %d %s", rec.Code, rec.Body)
	}
	user := body["user"].(map[string]any)
	if user["username"] != "alice" || user["role"] != "pentester" {
		t.Fatalf("unexpected identity: %v", user)
	}
	perms := user["permissions"].(map[string]any)
	modules := perms["modules"].(map[string]any)
	if modules["run"] != true {
		t.Fatalf("pentester should have modules.run: %v", perms)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	createUser(t, users, "alice", "pentester")

	recMissing, bodyMissing := login(t, srv, "nobody", testPassword)
	recWrong, bodyWrong := login(t, srv, "alice", "Wrong password 99")
	if recMissing.Code != http.StatusUnauthorized || recWrong.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401s, got %d and %d", recMissing.Code, recWrong.Code)
	}
	if bodyMissing["message"] != bodyWrong["message"] {
		t.Fatalf("messages differ: %v vs %v", bodyMissing["message"], bodyWrong["message"])
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t, "http://127.0.0.1:1")
	rec, _ := doJSON(t, srv, http.MethodGet, "/api/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec, _ = doJSON(t, srv, http.MethodGet, "/api/auth/me", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestDeletedUserTokenRejected(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	u := createUser(t, users, "ghost", "admin")
	token, err := srv.tokens.IssueSession(u.ID, u.Username, u.Role)
	if err != nil {
		t.Fatal(err)
	}
	if err := users.Delete(context.Background(), u.ID); err != nil {
		t.Fatal(err)
	}
	rec, _ := doJSON(t, srv, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deleted user's token still accepted: %d", rec.Code)
	}
}

func TestTwoFAChallengeTokenRejectedAsSession(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	u := createUser(t, users, "alice", "admin")
	challenge, err := srv.tokens.IssueTwoFAChallenge(u.ID, u.Username, u.Role)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := doJSON(t, srv, http.MethodGet, "/api/auth/me", challenge, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("challenge token accepted as session: %d", rec.Code)
	}
}

func TestPermissionDeniedNamesPermissionAndOverrideApplies(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"killed":true}`)
	}))
	defer upstream.Close()

	srv, users, _ := newTestServer(t, upstream.URL)
	u := createUser(t, users, "alice", "pentester")
	_, body := login(t, srv, "alice", testPassword)
	token := body["token"].(string)

	rec, denied := doJSON(t, srv, http.MethodDelete, "/api/proxy/jobs/7", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body)
	}
	if msg, _ := denied["message"].(string); !strings.Contains(msg, "jobs.kill") {
		t.Fatalf("denial should name the permission: %v", denied)
	}

	// Grant a custom override and retry with the same token.
	u.PermsJSON = json.RawMessage(`{"jobs":{"kill":true}}`)
	if err := users.Update(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	rec, _ = doJSON(t, srv, http.MethodDelete, "/api/proxy/jobs/7", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("override not applied without re-login: %d %s", rec.Code, rec.Body)
	}
}

func TestRoleChangeTakesEffectWithoutReLogin(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	u := createUser(t, users, "alice", "pentester")
	_, body := login(t, srv, "alice", testPassword)
	token := body["token"].(string)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/users", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pentester should not list users: %d", rec.Code)
	}

	u.Role = "admin"
	if err := users.Update(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	rec, _ = doJSON(t, srv, http.MethodGet, "/api/users", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("role change should apply on the next request: %d %s", rec.Code, rec.Body)
	}
}

func TestTemplateDeletionFallsBackToRoleDefaults(t *testing.T) {
	srv, users, templates := newTestServer(t, "http://127.0.0.1:1")
	tmplID, err := templates.Create(context.Background(), "Read Only", json.RawMessage(`{"status":{"view":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	u := createUser(t, users, "bob", "pentester")
	u.ACLTemplateID = &tmplID
	if err := users.Update(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	_, body := login(t, srv, "bob", testPassword)
	token := body["token"].(string)

	// Template grants status.view only, so modules access is denied.
	rec, meBody := doJSON(t, srv, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Code)
	}
	perms := meBody["user"].(map[string]any)["permissions"].(map[string]any)
	if _, ok := perms["modules"]; ok {
		t.Fatalf("template should replace role defaults: %v", perms)
	}

	if err := templates.Delete(context.Background(), tmplID); err != nil {
		t.Fatal(err)
	}
	rec, meBody = doJSON(t, srv, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Code)
	}
	user := meBody["user"].(map[string]any)
	if user["aclTemplateId"] != nil {
		t.Fatalf("template reference should be cleared: %v", user["aclTemplateId"])
	}
	perms = user["permissions"].(map[string]any)
	modules, ok := perms["modules"].(map[string]any)
	if !ok || modules["run"] != true {
		t.Fatalf("expected pentester defaults after template deletion: %v", perms)
	}
}

func TestProxyOfflineResult(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	createUser(t, users, "alice", "pentester")
	_, body := login(t, srv, "alice", testPassword)
	token := body["token"].(string)

	rec, out := doJSON(t, srv, http.MethodGet, "/api/proxy/status", token, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", rec.Code, rec.Body)
	}
	if out["status"] != "offline" || out["error"] != "connection_refused" {
		t.Fatalf("unexpected offline payload: %v", out)
	}
}

func TestProxyPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-key" {
			t.Errorf("missing shared credential, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/modules/exploit/list" {
			t.Errorf("unexpected upstream path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"no such module"}`)
	}))
	defer upstream.Close()

	srv, users, _ := newTestServer(t, upstream.URL)
	createUser(t, users, "alice", "pentester")
	_, body := login(t, srv, "alice", testPassword)
	token := body["token"].(string)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/proxy/modules/exploit/list", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("upstream status not passed through: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no such module") {
		t.Fatalf("upstream body not passed through: %s", rec.Body)
	}
}

func TestSysadminProtectionRules(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	admin := createUser(t, users, "carol", "admin")
	createUser(t, users, "root-op", "sysadmin")
	_, body := login(t, srv, "carol", testPassword)
	token := body["token"].(string)

	// An admin may not create a sysadmin.
	rec, _ := doJSON(t, srv, http.MethodPost, "/api/users", token, map[string]any{
		"username": "evil-root",
		"password": testPassword,
		"role":     "sysadmin",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin created a sysadmin: %d %s", rec.Code, rec.Body)
	}

	// An admin may not delete a sysadmin.
	sys, err := users.FindByUsername(context.Background(), "root-op")
	if err != nil {
		t.Fatal(err)
	}
	rec, _ = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/users/%d", sys.ID), token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin deleted a sysadmin: %d", rec.Code)
	}

	// Nobody deletes their own account.
	rec, _ = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/users/%d", admin.ID), token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("self-delete allowed: %d", rec.Code)
	}
}

func TestForcedPasswordRotation(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	u := createUser(t, users, "fresh", "sysadmin")
	if err := users.UpdatePassword(context.Background(), u.ID, u.PasswordHash, u.Salt, true); err != nil {
		t.Fatal(err)
	}
	_, body := login(t, srv, "fresh", testPassword)
	token := body["token"].(string)

	rec, out := doJSON(t, srv, http.MethodGet, "/api/users", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pending password change should block: %d", rec.Code)
	}
	if msg, _ := out["message"].(string); !strings.Contains(msg, "password change") {
		t.Fatalf("unexpected message: %v", out)
	}

	rec, _ = doJSON(t, srv, http.MethodPut, "/api/settings/password", token, map[string]string{
		"currentPassword": testPassword,
		"newPassword":     "Rotated987654",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("password change blocked: %d %s", rec.Code, rec.Body)
	}
	rec, _ = doJSON(t, srv, http.MethodGet, "/api/users", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotation should unblock the account: %d", rec.Code)
	}
}

func TestUpstreamKeyRotationIsSysadminOnly(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	createUser(t, users, "carol", "admin")
	_, body := login(t, srv, "carol", testPassword)
	token := body["token"].(string)

	rec, _ := doJSON(t, srv, http.MethodPut, "/api/settings/upstream-key", token, map[string]string{"apiKey": "next"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestTwoFAEnrollmentAndLoginFlow(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	createUser(t, users, "alice", "operator")
	_, body := login(t, srv, "alice", testPassword)
	token := body["token"].(string)

	rec, setup := doJSON(t, srv, http.MethodPost, "/api/settings/2fa/setup", token, map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("setup failed: %d %s", rec.Code, rec.Body)
	}
	secret := setup["secret"].(string)
	if !strings.HasPrefix(setup["qr"].(string), "data:image/png;base64,") {
		t.Fatalf("missing qr image: %v", setup["qr"])
	}

	code, err := auth.ComputeTOTPCode(secret, time.Now(), auth.DefaultTOTPConfig())
	if err != nil {
		t.Fatal(err)
	}
	rec, _ = doJSON(t, srv, http.MethodPost, "/api/settings/2fa/verify", token, map[string]string{"code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify failed: %d %s", rec.Code, rec.Body)
	}

	// Login now stops at the second-factor challenge.
	rec, challenge := login(t, srv, "alice", testPassword)
	if rec.Code != http.StatusOK || challenge["requireSecondFactor"] != true {
		t.Fatalf("expected second factor challenge: %d %v", rec.Code, challenge)
	}
	if _, ok := challenge["token"]; ok {
		t.Fatal("full session token issued before second factor")
	}
	short := challenge["shortLivedToken"].(string)

	code, err = auth.ComputeTOTPCode(secret, time.Now(), auth.DefaultTOTPConfig())
	if err != nil {
		t.Fatal(err)
	}
	rec, granted := doJSON(t, srv, http.MethodPost, "/api/auth/verify-2fa", "", map[string]string{
		"shortLivedToken": short,
		"code":            code,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify-2fa failed: %d %s", rec.Code, rec.Body)
	}
	session := granted["token"].(string)
	rec, _ = doJSON(t, srv, http.MethodGet, "/api/auth/me", session, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("granted session rejected: %d", rec.Code)
	}

	// A session token is not a usable second-factor challenge.
	rec, _ = doJSON(t, srv, http.MethodPost, "/api/auth/verify-2fa", "", map[string]string{
		"shortLivedToken": session,
		"code":            code,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("session token accepted as challenge: %d", rec.Code)
	}
}

func TestOverrideDoesNotBypassRoleGates(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	u := createUser(t, users, "mallory", "pentester")
	u.PermsJSON = json.RawMessage(`{"users":{"manage":true},"acl":{"manage":true}}`)
	if err := users.Update(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	_, body := login(t, srv, "mallory", testPassword)
	token := body["token"].(string)

	for _, path := range []string{"/api/users", "/api/acl-templates", "/api/audit"} {
		rec, _ := doJSON(t, srv, http.MethodGet, path, token, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("pentester with manage override reached %s: %d %s", path, rec.Code, rec.Body)
		}
	}
}

func TestTemplateRoutesAreSysadminOnly(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	createUser(t, users, "carol", "admin")
	_, body := login(t, srv, "carol", testPassword)
	token := body["token"].(string)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/acl-templates", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin reached template management: %d", rec.Code)
	}
}

func TestRequestLogNamesAuthenticatedUser(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLoggerTo(&buf, "info", "text")
	srv, users, _ := newTestServerWithLogger(t, "http://127.0.0.1:1", logger)
	createUser(t, users, "alice", "pentester")
	_, body := login(t, srv, "alice", testPassword)
	token := body["token"].(string)

	buf.Reset()
	rec, _ := doJSON(t, srv, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Code)
	}
	if !strings.Contains(buf.String(), "user=alice") {
		t.Fatalf("access log missing the caller: %s", buf.String())
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	createUser(t, users, "alice", "pentester")

	var last int
	for i := 0; i < 6; i++ {
		rec, _ := login(t, srv, "alice", "Wrong password 99")
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated attempts, got %d", last)
	}
}

func TestLoginRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	srv, users, _ := newTestServer(t, "http://127.0.0.1:1")
	createUser(t, users, "alice", "pentester")

	var last int
	for i := 0; i < 8; i++ {
		raw, _ := json.Marshal(map[string]string{
			"username": "alice",
			"password": "Wrong password 99",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(raw))
		req.RemoteAddr = fmt.Sprintf("198.51.100.%d:4444", i+1)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.%d.%d", i, i))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("rotating forwarded headers defeated the limiter: %d", last)
	}
}
