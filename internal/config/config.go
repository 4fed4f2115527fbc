package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every deployment knob the service reads. All values come
// from the environment; Load fails fast on anything required but absent so a
// misconfigured instance never serves traffic.
type Config struct {
	Env  string
	Port int

	DatabaseURL string
	RedisAddr   string

	AuthProviderURL string
	AuthProviderKey string

	AdminSecretHash     string
	AdminSessionPepper  string
	AdminSessionTTL     time.Duration
	AdminCleanupEvery   time.Duration
	AdminLoginRateLimit int
	AdminLoginRateMode  string

	UsageTimezone   string
	TrialDailyLimit int

	VerifyCacheTTL time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELMetricsExportInterval time.Duration
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELHTTPEnabled           bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:  getEnv("ENV", "development"),
		Port: 8080,

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		AuthProviderURL: os.Getenv("AUTH_PROVIDER_URL"),
		AuthProviderKey: os.Getenv("AUTH_PROVIDER_KEY"),

		AdminSecretHash:     os.Getenv("ADMIN_SECRET_HASH"),
		AdminSessionPepper:  os.Getenv("ADMIN_SESSION_PEPPER"),
		AdminSessionTTL:     time.Hour,
		AdminCleanupEvery:   time.Hour,
		AdminLoginRateLimit: 10,
		AdminLoginRateMode:  getEnv("ADMIN_LOGIN_RATE_MODE", "fail_closed"),

		UsageTimezone:   getEnv("USAGE_TIMEZONE", "UTC"),
		TrialDailyLimit: 0,

		VerifyCacheTTL: 30 * time.Second,

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "gatekeeper"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELMetricsExportInterval: 15 * time.Second,
		OTELTracesEnabled:         getEnvBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:           getEnvBool("OTEL_LOGS_ENABLED", false),
		OTELHTTPEnabled:           getEnvBool("OTEL_HTTP_ENABLED", false),
	}

	var err error
	if cfg.Port, err = getEnvInt("PORT", cfg.Port); err != nil {
		return nil, loadFailed(cfg, err)
	}
	if cfg.AdminSessionTTL, err = getEnvDuration("ADMIN_SESSION_TTL", cfg.AdminSessionTTL); err != nil {
		return nil, loadFailed(cfg, err)
	}
	if cfg.AdminCleanupEvery, err = getEnvDuration("ADMIN_CLEANUP_EVERY", cfg.AdminCleanupEvery); err != nil {
		return nil, loadFailed(cfg, err)
	}
	if cfg.AdminLoginRateLimit, err = getEnvInt("ADMIN_LOGIN_RATE_LIMIT", cfg.AdminLoginRateLimit); err != nil {
		return nil, loadFailed(cfg, err)
	}
	if cfg.TrialDailyLimit, err = getEnvInt("TRIAL_DAILY_LIMIT", cfg.TrialDailyLimit); err != nil {
		return nil, loadFailed(cfg, err)
	}
	if cfg.VerifyCacheTTL, err = getEnvDuration("VERIFY_CACHE_TTL", cfg.VerifyCacheTTL); err != nil {
		return nil, loadFailed(cfg, err)
	}
	if cfg.OTELMetricsExportInterval, err = getEnvDuration("OTEL_METRICS_EXPORT_INTERVAL", cfg.OTELMetricsExportInterval); err != nil {
		return nil, loadFailed(cfg, err)
	}

	if err := cfg.validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		return nil, loadFailed(cfg, err)
	}
	recordConfigValidationEvent(context.Background(), cfg.Env, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.AuthProviderURL == "" {
		missing = append(missing, "AUTH_PROVIDER_URL")
	}
	if c.AuthProviderKey == "" {
		missing = append(missing, "AUTH_PROVIDER_KEY")
	}
	if c.AdminSecretHash == "" {
		missing = append(missing, "ADMIN_SECRET_HASH")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required", strings.Join(missing, ", "))
	}
	if _, err := time.LoadLocation(c.UsageTimezone); err != nil {
		return fmt.Errorf("USAGE_TIMEZONE %q: %w", c.UsageTimezone, err)
	}
	if c.AdminSessionTTL <= 0 {
		return fmt.Errorf("ADMIN_SESSION_TTL must be positive")
	}
	if c.TrialDailyLimit < 0 {
		return fmt.Errorf("TRIAL_DAILY_LIMIT must not be negative")
	}
	switch c.AdminLoginRateMode {
	case "fail_open", "fail_closed":
	default:
		return fmt.Errorf("ADMIN_LOGIN_RATE_MODE must be fail_open or fail_closed")
	}
	return nil
}

// UsageLocation resolves the deployment timezone the ledger counts days in.
// Only valid after a successful Load.
func (c *Config) UsageLocation() *time.Location {
	loc, err := time.LoadLocation(c.UsageTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func loadFailed(cfg *Config, err error) error {
	recordConfigValidationEvent(context.Background(), cfg.Env, "failure", classifyConfigLoadError(err))
	return err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
