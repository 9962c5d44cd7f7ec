package config

import "testing"

func validProdConfig() *AppConfig {
	cfg := &AppConfig{
		DBDriver:      "sqlite",
		DBPath:        "talon.db",
		AppEnv:        "prod",
		SessionSecret: "session-secret-test-value-1234567890",
		Pepper:        "pepper-test-value-1234567890",
	}
	cfg.Upstream.BaseURL = "http://127.0.0.1:55553"
	return cfg
}

func TestValidateRejectsDefaultSecretsInProd(t *testing.T) {
	cfg := validProdConfig()
	cfg.SessionSecret = defaultSessionSecret
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for default session secret in prod")
	}
	cfg = validProdConfig()
	cfg.Pepper = defaultPepper
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for default pepper in prod")
	}
}

func TestValidateRequiresUpstreamOutsideDev(t *testing.T) {
	cfg := validProdConfig()
	cfg.Upstream.BaseURL = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing upstream base url in prod")
	}
}

func TestValidateAllowsDevDefaults(t *testing.T) {
	cfg := validProdConfig()
	cfg.AppEnv = "dev"
	cfg.SessionSecret = defaultSessionSecret
	cfg.Pepper = defaultPepper
	cfg.Upstream.BaseURL = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error for dev defaults: %v", err)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := validProdConfig()
	cfg.DBDriver = "oracle"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestValidateRequiresURLForPostgres(t *testing.T) {
	cfg := validProdConfig()
	cfg.DBDriver = "postgres"
	cfg.DBURL = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for postgres without db_url")
	}
}

func TestValidateRejectsMalformedUpstreamURL(t *testing.T) {
	cfg := validProdConfig()
	cfg.Upstream.BaseURL = "not a url"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for malformed upstream url")
	}
}
