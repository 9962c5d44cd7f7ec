package config

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultSessionSecret = "sJ4mPq1yTZBd0kCvR8uWxE_h6aG2nLof"
	defaultPepper        = "Vq7cXe3tKbYs9rMh1jDwA_z5uNpF0iLg"
)

func Validate(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", "sqlite", "postgres", "pg":
	default:
		return fmt.Errorf("unsupported db_driver: %s", cfg.DBDriver)
	}
	if (driver == "postgres" || driver == "pg") && strings.TrimSpace(cfg.DBURL) == "" {
		return fmt.Errorf("db_url must be set for postgres driver")
	}
	if strings.TrimSpace(cfg.SessionSecret) == "" || strings.TrimSpace(cfg.Pepper) == "" {
		return fmt.Errorf("session_secret and pepper must be set via env")
	}
	if base := strings.TrimSpace(cfg.Upstream.BaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("upstream.base_url is not a valid URL: %s", base)
		}
	}
	appEnv := strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	if appEnv != "dev" {
		if isDefaultSecret(cfg.SessionSecret) || isDefaultSecret(cfg.Pepper) {
			return fmt.Errorf("default secrets are not allowed outside APP_ENV=dev")
		}
		if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
			return fmt.Errorf("upstream.base_url must be set outside APP_ENV=dev")
		}
	}
	return nil
}

func isDefaultSecret(val string) bool {
	switch strings.TrimSpace(val) {
	case defaultSessionSecret, defaultPepper:
		return true
	default:
		return false
	}
}
