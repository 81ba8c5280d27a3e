package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string
	RedisURL       string
	BackendBaseURL string
	BackendAPIKey  string
	IssuerURL      string
	CachePath      string
	PageSize       int
	LogLevel       string
}

// fileConfig is the optional YAML overlay, pointed at by CIRCLEFEED_CONFIG.
type fileConfig struct {
	Port           string `yaml:"port"`
	RedisURL       string `yaml:"redis_url"`
	BackendBaseURL string `yaml:"backend_base_url"`
	BackendAPIKey  string `yaml:"backend_api_key"`
	IssuerURL      string `yaml:"issuer_url"`
	CachePath      string `yaml:"cache_path"`
	PageSize       int    `yaml:"page_size"`
	LogLevel       string `yaml:"log_level"`
}

// Load resolves configuration with env vars winning over the YAML file,
// which wins over defaults. A .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           "8080",
		RedisURL:       "redis://localhost:6379",
		BackendBaseURL: "http://localhost:3000/api",
		CachePath:      "data/feedcache",
		PageSize:       10,
		LogLevel:       "info",
	}

	if path := os.Getenv("CIRCLEFEED_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyFile(cfg, fc)
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.BackendBaseURL = getEnv("BACKEND_BASE_URL", cfg.BackendBaseURL)
	cfg.BackendAPIKey = getEnv("BACKEND_API_KEY", cfg.BackendAPIKey)
	cfg.IssuerURL = getEnv("ISSUER_URL", cfg.IssuerURL)
	cfg.CachePath = getEnv("CACHE_PATH", cfg.CachePath)
	cfg.PageSize = getEnvInt("PAGE_SIZE", cfg.PageSize)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("ISSUER_URL is required")
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if fc.RedisURL != "" {
		cfg.RedisURL = fc.RedisURL
	}
	if fc.BackendBaseURL != "" {
		cfg.BackendBaseURL = fc.BackendBaseURL
	}
	if fc.BackendAPIKey != "" {
		cfg.BackendAPIKey = fc.BackendAPIKey
	}
	if fc.IssuerURL != "" {
		cfg.IssuerURL = fc.IssuerURL
	}
	if fc.CachePath != "" {
		cfg.CachePath = fc.CachePath
	}
	if fc.PageSize > 0 {
		cfg.PageSize = fc.PageSize
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
