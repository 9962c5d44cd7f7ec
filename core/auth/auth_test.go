package auth

import (
	"strings"
	"testing"
	"time"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("CorrectHorse7Battery", "pepper")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := VerifyPassword("CorrectHorse7Battery", "pepper", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("wrong password 123", "pepper", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("CorrectHorse7Battery", "other-pepper", hash)
	if err != nil || ok {
		t.Fatal("pepper must participate in the hash")
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.IssueSession(42, "alice", "pentester")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := issuer.ParseSession(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || claims.Role != "pentester" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenPurposeIsEnforced(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	challenge, err := issuer.IssueTwoFAChallenge(7, "bob", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.ParseSession(challenge); err == nil {
		t.Fatal("challenge token accepted as session")
	}
	session, err := issuer.IssueSession(7, "bob", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.ParseTwoFAChallenge(session); err == nil {
		t.Fatal("session token accepted as challenge")
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenIssuer("secret-a", time.Hour).IssueSession(1, "alice", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenIssuer("secret-b", time.Hour).ParseSession(token); err == nil {
		t.Fatal("token verified with the wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", -time.Minute)
	token, err := issuer.IssueSession(1, "alice", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.ParseSession(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestTOTPVerify(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultTOTPConfig()
	now := time.Now()
	code, err := ComputeTOTPCode(secret, now, cfg)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := VerifyTOTP(secret, code, now, cfg)
	if err != nil || !ok {
		t.Fatalf("current code rejected: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyTOTP(secret, code, now.Add(30*time.Second), cfg)
	if err != nil || !ok {
		t.Fatal("code within skew window rejected")
	}
	ok, err = VerifyTOTP(secret, "000000", now, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if ok && code != "000000" {
		t.Fatal("wrong code accepted")
	}
	if _, err := VerifyTOTP("not base32!", code, now, cfg); err == nil {
		t.Fatal("invalid secret accepted")
	}
}

func TestTOTPSecretEncryption(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatal(err)
	}
	enc, err := EncryptTOTPSecret(secret, "pepper")
	if err != nil {
		t.Fatal(err)
	}
	if enc == secret {
		t.Fatal("secret stored in the clear")
	}
	dec, err := DecryptTOTPSecret(enc, "pepper")
	if err != nil {
		t.Fatal(err)
	}
	if dec != secret {
		t.Fatalf("round trip mismatch: %q vs %q", dec, secret)
	}
	if _, err := DecryptTOTPSecret(enc, "other-pepper"); err == nil {
		t.Fatal("decrypt succeeded with the wrong pepper")
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := BuildTOTPProvisioningURI("Talon Console", "alice", "ABCDEFGH")
	if got, want := uri[:15], "otpauth://totp/"; got != want {
		t.Fatalf("unexpected scheme prefix %q", got)
	}
	for _, part := range []string{"secret=ABCDEFGH", "issuer=Talon+Console", "digits=6"} {
		if !strings.Contains(uri, part) {
			t.Fatalf("uri %q missing %q", uri, part)
		}
	}
}
