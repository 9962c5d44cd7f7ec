package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	defaultConfigPath = "config/app.yaml"
	envPrefix         = "TALON_"
)

func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	cfgPath := resolveConfigPath()
	if st, err := os.Stat(cfgPath); err == nil && !st.IsDir() {
		if err := cleanenv.ReadConfig(cfgPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	applyEnvAliases(cfg)
	normalizeConfig(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvAliases(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	if v := getEnv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = strings.TrimSpace(v)
	}
	if v := getEnv("PEPPER"); v != "" {
		cfg.Pepper = strings.TrimSpace(v)
	}
	if v := getEnv("ENV", "APP_ENV"); v != "" {
		cfg.AppEnv = strings.TrimSpace(v)
	}
	if v := getEnv("PORT", envPrefix+"PORT"); v != "" {
		cfg.ListenAddr = listenAddrWithPort(cfg.ListenAddr, v)
	}
	if v := getEnv("UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = strings.TrimSpace(v)
	}
	if v := getEnv("UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = strings.TrimSpace(v)
	}
}

func normalizeConfig(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.SessionSecret = strings.TrimSpace(cfg.SessionSecret)
	cfg.Pepper = strings.TrimSpace(cfg.Pepper)
	cfg.AllowedOrigin = strings.TrimSpace(cfg.AllowedOrigin)
	cfg.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Upstream.BaseURL), "/")
	cfg.Upstream.APIKey = strings.TrimSpace(cfg.Upstream.APIKey)
	cfg.Upstream.HealthPath = strings.TrimSpace(cfg.Upstream.HealthPath)
	if cfg.Upstream.HealthPath == "" {
		cfg.Upstream.HealthPath = "/api/status"
	}
	if !strings.HasPrefix(cfg.Upstream.HealthPath, "/") {
		cfg.Upstream.HealthPath = "/" + cfg.Upstream.HealthPath
	}
	if cfg.Upstream.TimeoutSec <= 0 {
		cfg.Upstream.TimeoutSec = 30
	}
	if strings.TrimSpace(cfg.Upstream.HealthSchedule) == "" {
		cfg.Upstream.HealthSchedule = "@every 1m"
	}
}

func getEnv(keys ...string) string {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func resolveConfigPath() string {
	if v := getEnv("APP_CONFIG", envPrefix+"APP_CONFIG"); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultConfigPath
}

func listenAddrWithPort(currentAddr, portRaw string) string {
	port := strings.TrimSpace(portRaw)
	if port == "" {
		return currentAddr
	}
	if _, err := strconv.Atoi(port); err != nil {
		return currentAddr
	}
	host := "0.0.0.0"
	parts := strings.Split(strings.TrimSpace(currentAddr), ":")
	if len(parts) > 1 {
		host = strings.Join(parts[:len(parts)-1], ":")
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + port
}
