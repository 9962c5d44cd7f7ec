package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPIgnoresUntrustedForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4444"
	req.Header.Set("X-Forwarded-For", "10.1.2.3")
	if ip := ClientIP(req, nil); ip != "203.0.113.9" {
		t.Fatalf("untrusted peer's forwarded header honored: %s", ip)
	}
}

func TestClientIPHonorsTrustedProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:4444"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if ip := ClientIP(req, []string{"127.0.0.1"}); ip != "198.51.100.7" {
		t.Fatalf("trusted proxy forwarded header not honored: %s", ip)
	}

	req.RemoteAddr = "192.168.1.20:4444"
	if ip := ClientIP(req, []string{"192.168.0.0/16"}); ip != "198.51.100.7" {
		t.Fatalf("cidr trusted proxy not honored: %s", ip)
	}
}

func TestClientIPFallsBackToRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:4444"
	req.Header.Set("X-Real-IP", "198.51.100.9")
	if ip := ClientIP(req, []string{"127.0.0.1"}); ip != "198.51.100.9" {
		t.Fatalf("x-real-ip not honored from trusted proxy: %s", ip)
	}
}
