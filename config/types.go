package config

import "time"

type AppConfig struct {
	ListenAddr     string         `yaml:"listen_addr" env:"TALON_LISTEN_ADDR" env-default:"0.0.0.0:8473"`
	DBDriver       string         `yaml:"db_driver" env:"TALON_DB_DRIVER"`
	DBPath         string         `yaml:"db_path" env:"TALON_DB_PATH" env-default:"talon.db"`
	DBURL          string         `yaml:"db_url" env:"TALON_DB_URL"`
	AppEnv         string         `yaml:"app_env" env:"TALON_APP_ENV"`
	SessionSecret  string         `yaml:"session_secret" env:"TALON_SESSION_SECRET"`
	Pepper         string         `yaml:"pepper" env:"TALON_PEPPER"`
	SessionTTL     time.Duration  `yaml:"session_ttl" env:"TALON_SESSION_TTL"`
	AllowedOrigin  string         `yaml:"allowed_origin" env:"TALON_ALLOWED_ORIGIN"`
	TrustedProxies []string       `yaml:"trusted_proxies" env:"TALON_TRUSTED_PROXIES"`
	LogLevel       string         `yaml:"log_level" env:"TALON_LOG_LEVEL"`
	LogFormat      string         `yaml:"log_format" env:"TALON_LOG_FORMAT"`
	TLSEnabled     bool           `yaml:"tls_enabled" env:"TALON_TLS_ENABLED"`
	TLSCert        string         `yaml:"tls_cert" env:"TALON_TLS_CERT"`
	TLSKey         string         `yaml:"tls_key" env:"TALON_TLS_KEY"`
	Upstream       UpstreamConfig `yaml:"upstream"`
}

type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url" env:"TALON_UPSTREAM_BASE_URL"`
	APIKey         string `yaml:"api_key" env:"TALON_UPSTREAM_API_KEY"`
	TimeoutSec     int    `yaml:"timeout_sec" env:"TALON_UPSTREAM_TIMEOUT_SEC"`
	HealthPath     string `yaml:"health_path" env:"TALON_UPSTREAM_HEALTH_PATH"`
	HealthSchedule string `yaml:"health_schedule" env:"TALON_UPSTREAM_HEALTH_SCHEDULE"`
}

// EffectiveSessionTTL returns the configured session lifetime or the
// 8-hour default when unset.
func (c *AppConfig) EffectiveSessionTTL() time.Duration {
	if c == nil || c.SessionTTL <= 0 {
		return 8 * time.Hour
	}
	return c.SessionTTL
}

func (c *AppConfig) UpstreamTimeout() time.Duration {
	if c == nil {
		return 30 * time.Second
	}
	return c.Upstream.Timeout()
}

// Timeout bounds every upstream call; 30s when unset.
func (u UpstreamConfig) Timeout() time.Duration {
	if u.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(u.TimeoutSec) * time.Second
}
