// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Empty DatabaseURL selects the in-memory store
	// (dev mode only).
	DatabaseURL string

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Admin bootstrap.
	AdminAPIKey string // API key for the initial admin user.

	// Budget ceilings, in account currency.
	BudgetDailyLimit   float64
	BudgetMonthlyLimit float64

	// Policy thresholds.
	HighCostThreshold float64
	MidCostThreshold  float64

	// Approval and execution settings.
	ApprovalTTL time.Duration
	StepTimeout time.Duration

	// Planner model settings. No API key means the keyword fallback
	// plans everything.
	PlannerAPIKey  string
	PlannerModel   string
	PlannerBaseURL string // OpenAI-compatible endpoint; empty uses the provider default.

	// Connector settings.
	SearchMaxResults int
	EmailAPIKey      string
	EmailFrom        string
	HTTPMaxBodyBytes int64

	// Event bus settings.
	EventBufferSize    int
	EventMaxPerUser    int
	EventReplaySize    int
	EventReplayTTL     time.Duration
	EventKeepalive     time.Duration

	// Rate limiting. Auth limits apply per client IP on the token
	// endpoint; API limits apply per user on everything else.
	RateLimitEnabled   bool
	RateLimitRPS       float64
	RateLimitBurst     int
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("STEWARD_PORT", 8080),
		ReadTimeout:         envDuration("STEWARD_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("STEWARD_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		JWTPrivateKeyPath:   envStr("STEWARD_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("STEWARD_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("STEWARD_JWT_EXPIRATION", 24*time.Hour),
		AdminAPIKey:         envStr("STEWARD_ADMIN_API_KEY", ""),
		BudgetDailyLimit:    envFloat("STEWARD_BUDGET_DAILY_LIMIT", 1000),
		BudgetMonthlyLimit:  envFloat("STEWARD_BUDGET_MONTHLY_LIMIT", 10000),
		HighCostThreshold:   envFloat("STEWARD_HIGH_COST_THRESHOLD", 500),
		MidCostThreshold:    envFloat("STEWARD_MID_COST_THRESHOLD", 100),
		ApprovalTTL:         envDuration("STEWARD_APPROVAL_TTL", 24*time.Hour),
		StepTimeout:         envDuration("STEWARD_STEP_TIMEOUT", 2*time.Minute),
		PlannerAPIKey:       envStr("STEWARD_PLANNER_API_KEY", ""),
		PlannerModel:        envStr("STEWARD_PLANNER_MODEL", "gpt-4o-mini"),
		PlannerBaseURL:      envStr("STEWARD_PLANNER_BASE_URL", ""),
		SearchMaxResults:    envInt("STEWARD_SEARCH_MAX_RESULTS", 10),
		EmailAPIKey:         envStr("STEWARD_EMAIL_API_KEY", ""),
		EmailFrom:           envStr("STEWARD_EMAIL_FROM", "steward@localhost"),
		HTTPMaxBodyBytes:    int64(envInt("STEWARD_HTTP_MAX_BODY_BYTES", 64*1024)),
		EventBufferSize:     envInt("STEWARD_EVENT_BUFFER_SIZE", 64),
		EventMaxPerUser:     envInt("STEWARD_EVENT_MAX_PER_USER", 8),
		EventReplaySize:     envInt("STEWARD_EVENT_REPLAY_SIZE", 256),
		EventReplayTTL:      envDuration("STEWARD_EVENT_REPLAY_TTL", 15*time.Minute),
		EventKeepalive:      envDuration("STEWARD_EVENT_KEEPALIVE", 15*time.Second),
		RateLimitEnabled:    envBool("STEWARD_RATE_LIMIT", true),
		RateLimitRPS:        envFloat("STEWARD_RATE_LIMIT_RPS", 10),
		RateLimitBurst:      envInt("STEWARD_RATE_LIMIT_BURST", 20),
		AuthRateLimitRPS:    envFloat("STEWARD_AUTH_RATE_LIMIT_RPS", 1),
		AuthRateLimitBurst:  envInt("STEWARD_AUTH_RATE_LIMIT_BURST", 5),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "steward"),
		LogLevel:            envStr("STEWARD_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("STEWARD_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.BudgetDailyLimit <= 0 {
		return fmt.Errorf("config: STEWARD_BUDGET_DAILY_LIMIT must be positive")
	}
	if c.BudgetMonthlyLimit < c.BudgetDailyLimit {
		return fmt.Errorf("config: STEWARD_BUDGET_MONTHLY_LIMIT must be at least the daily limit")
	}
	if c.MidCostThreshold <= 0 || c.HighCostThreshold <= c.MidCostThreshold {
		return fmt.Errorf("config: cost thresholds must satisfy 0 < mid < high")
	}
	if c.ApprovalTTL <= 0 {
		return fmt.Errorf("config: STEWARD_APPROVAL_TTL must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: STEWARD_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
