package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Profile    string
	ServerAddr string
	LogDebug   bool

	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	JWTIssuer        string
	JWTAudience      string
	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	// BlacklistOnRotate additionally blacklists the outgoing access token
	// whenever its refresh token is rotated, instead of letting it run out
	// its natural lifetime.
	BlacklistOnRotate bool
	StoreOpTimeout    time.Duration
	OAuthStateTTL     time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	CookieSecure     bool

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Profile = getEnv("APP_ENV", "dev")
	cfg.ServerAddr = getEnv("SERVER_ADDR", ":8080")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "file:authgate.db?_pragma=busy_timeout(5000)")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")

	cfg.JWTIssuer = getEnv("JWT_ISSUER", "authgate")
	cfg.JWTAudience = getEnv("JWT_AUDIENCE", "authgate-api")
	cfg.JWTAccessSecret = os.Getenv("JWT_ACCESS_SECRET")
	cfg.JWTRefreshSecret = getEnv("JWT_REFRESH_SECRET", cfg.JWTAccessSecret)

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.GitHubClientID = os.Getenv("GITHUB_CLIENT_ID")
	cfg.GitHubClientSecret = os.Getenv("GITHUB_CLIENT_SECRET")
	cfg.GitHubRedirectURL = os.Getenv("GITHUB_REDIRECT_URL")

	cfg.OTELServiceName = getEnv("OTEL_SERVICE_NAME", "authgate")
	cfg.OTELEnvironment = getEnv("OTEL_ENVIRONMENT", cfg.Profile)
	cfg.OTELExporterOTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	if cfg.CORSOrigins = splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000")); len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = nil
	}

	boolVars := []struct {
		name string
		dst  *bool
		def  bool
	}{
		{"LOG_DEBUG", &cfg.LogDebug, false},
		{"BLACKLIST_ON_ROTATE", &cfg.BlacklistOnRotate, false},
		{"COOKIE_SECURE", &cfg.CookieSecure, cfg.Profile == "prod"},
		{"OTEL_EXPORTER_OTLP_INSECURE", &cfg.OTELExporterOTLPInsecure, true},
		{"OTEL_METRICS_ENABLED", &cfg.OTELMetricsEnabled, false},
		{"OTEL_TRACES_ENABLED", &cfg.OTELTracesEnabled, false},
		{"OTEL_LOGS_ENABLED", &cfg.OTELLogsEnabled, false},
	}
	for _, v := range boolVars {
		if *v.dst, err = parseBoolEnv(v.name, v.def); err != nil {
			return nil, err
		}
	}

	durationVars := []struct {
		name string
		dst  *time.Duration
		def  time.Duration
	}{
		{"JWT_ACCESS_TTL", &cfg.AccessTokenTTL, 24 * time.Hour},
		{"JWT_REFRESH_TTL", &cfg.RefreshTokenTTL, 7 * 24 * time.Hour},
		{"STORE_OP_TIMEOUT", &cfg.StoreOpTimeout, 2 * time.Second},
		{"OAUTH_STATE_TTL", &cfg.OAuthStateTTL, 10 * time.Minute},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 15 * time.Second},
		{"SHUTDOWN_HTTP_DRAIN_TIMEOUT", &cfg.ShutdownHTTPDrainTimeout, 5 * time.Second},
		{"SHUTDOWN_OBSERVABILITY_TIMEOUT", &cfg.ShutdownObservabilityTimeout, 5 * time.Second},
		{"OTEL_METRICS_EXPORT_INTERVAL", &cfg.OTELMetricsExportInterval, 15 * time.Second},
	}
	for _, v := range durationVars {
		if *v.dst, err = parseDurationEnv(v.name, v.def); err != nil {
			return nil, err
		}
	}

	intVars := []struct {
		name string
		dst  *int
		def  int
	}{
		{"REDIS_DB", &cfg.RedisDB, 0},
		{"API_RATE_LIMIT_RPM", &cfg.APIRateLimitRPM, 600},
		{"AUTH_RATE_LIMIT_RPM", &cfg.AuthRateLimitRPM, 60},
	}
	for _, v := range intVars {
		if *v.dst, err = parseIntEnv(v.name, v.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Profile, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTAccessSecret == "" {
		return fmt.Errorf("validate config: JWT_ACCESS_SECRET is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		return fmt.Errorf("validate config: JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if len(c.JWTRefreshSecret) < 32 {
		return fmt.Errorf("validate config: JWT_REFRESH_SECRET must be at least 32 bytes")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("validate config: JWT_ACCESS_TTL must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("validate config: JWT_REFRESH_TTL must exceed JWT_ACCESS_TTL")
	}
	if c.StoreOpTimeout <= 0 {
		return fmt.Errorf("validate config: STORE_OP_TIMEOUT must be positive")
	}
	return nil
}

// GoogleOAuthConfigured reports whether the Google provider can be enabled.
func (c *Config) GoogleOAuthConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func (c *Config) GitHubOAuthConfigured() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != "" && c.GitHubRedirectURL != ""
}

func getEnv(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func parseBoolEnv(name string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func parseIntEnv(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func parseDurationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
