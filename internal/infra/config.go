package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	JWTSecret      string
	AdminToken     string
	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string
	DefaultLocale  string
	AllowedOrigins []string

	ComfyAPIKey  string
	ComfyBaseURL string
	// Deployments maps a job type to the vendor deployment that serves it.
	Deployments map[string]string
	// CreditCosts maps a job type to its credit price; DefaultCreditCost
	// applies to any type without an explicit entry.
	CreditCosts       map[string]int64
	DefaultCreditCost int64
	SignupCreditGrant int64

	PollInterval    time.Duration
	MaxPollAttempts int
	SweepStaleAfter time.Duration
	SweepPause      time.Duration
	SweepSchedule   string
	SweepBatchLimit int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:  getEnv("DEFAULT_LOCALE", "en"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),

		ComfyAPIKey:  os.Getenv("COMFY_API_KEY"),
		ComfyBaseURL: getEnv("COMFY_BASE_URL", "https://api.comfydeploy.com"),
		Deployments: map[string]string{
			"background-changer": getEnv("COMFY_DEPLOYMENT_BACKGROUND", "0229e028-c785-4e35-8317-cbde43ccfa01"),
			"ai-generation":      os.Getenv("COMFY_DEPLOYMENT_GENERATION"),
		},
		CreditCosts:       map[string]int64{},
		DefaultCreditCost: int64(getEnvInt("CREDIT_COST_DEFAULT", 15)),
		SignupCreditGrant: int64(getEnvInt("SIGNUP_CREDIT_GRANT", 200)),

		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		MaxPollAttempts: getEnvInt("MAX_POLL_ATTEMPTS", 60),
		SweepStaleAfter: time.Minute * time.Duration(getEnvInt("SWEEP_STALE_AFTER_MINUTES", 10)),
		SweepPause:      time.Second * time.Duration(getEnvInt("SWEEP_PAUSE_SECONDS", 1)),
		SweepSchedule:   getEnv("SWEEP_SCHEDULE", "*/10 * * * *"),
		SweepBatchLimit: getEnvInt("SWEEP_BATCH_LIMIT", 100),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if v := os.Getenv("CREDIT_COST_BACKGROUND"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CreditCosts["background-changer"] = n
		}
	}
	if v := os.Getenv("CREDIT_COST_GENERATION"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CreditCosts["ai-generation"] = n
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// CostFor returns the credit price for a job type.
func (c *Config) CostFor(jobType string) int64 {
	if cost, ok := c.CreditCosts[jobType]; ok {
		return cost
	}
	return c.DefaultCreditCost
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
