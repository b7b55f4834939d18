// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// S3Config holds the optional object storage settings. They are used for
// s3:// policy sources and registered with DuckDB as an S3 secret.
type S3Config struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string // "path" or "vhost"
}

// Configured reports whether any S3 credential or endpoint was provided.
func (s S3Config) Configured() bool {
	return s.KeyID != "" || s.Endpoint != ""
}

// Config holds the server configuration.
type Config struct {
	ListenAddr string // HTTP listen address (default ":8080")
	GRPCAddr   string // data service gRPC address (default ":9090"), "off" disables
	FlightAddr string // Flight SQL address (default ":32010"), "off" disables

	DuckDBPath    string   // DuckDB database file; empty means in-memory
	DuckDBExts    []string // extensions loaded at startup (default substrait)
	AuditDBPath   string   // SQLite audit log (default "vectorgate_audit.sqlite")
	ExternalViews string   // schema.table=path entries exposed as views at startup
	SeedDemo      bool     // create the demo sales schema when it is missing
	PolicySource  string   // policy file path, file:// or s3:// URL; empty starts with no policies
	S3            S3Config
	AWSRegion     string
	JWTSecret     string // HS256 secret; empty disables bearer validation
	TrustHeaders  bool   // accept X-Principal / X-Groups identity headers
	RequireAuth   bool   // reject anonymous callers
	LogLevel      string // debug, info, warn, error (default "info")
	LogFormat     string // text or json (default "text")
	Env           string // "development" (default) or "production"
	ServerVersion string

	// AuditAdminGroups may list every principal's audit entries (default ["admins"]).
	AuditAdminGroups []string

	// Execution
	MaxRowsPerBlock      int           // default 2048
	MaxConcurrentQueries int64         // default 16
	CursorTTL            time.Duration // default 10m
	CursorSweepInterval  time.Duration // default 1m
	ShutdownTimeout      time.Duration // default 15s

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// SweepSchedule is the cron schedule of the cursor eviction sweep.
func (c *Config) SweepSchedule() string {
	if c.CursorSweepInterval <= 0 {
		return ""
	}
	return "@every " + c.CursorSweepInterval.String()
}

// Disabled reports whether a listener address turns the listener off.
func Disabled(addr string) bool {
	return addr == "" || strings.EqualFold(addr, "off")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		GRPCAddr:      os.Getenv("GRPC_ADDR"),
		FlightAddr:    os.Getenv("FLIGHT_ADDR"),
		DuckDBPath:    os.Getenv("DUCKDB_PATH"),
		AuditDBPath:   os.Getenv("AUDIT_DB_PATH"),
		ExternalViews: os.Getenv("EXTERNAL_VIEWS"),
		SeedDemo:      parseBoolEnvDefault("SEED_DEMO", false),
		PolicySource:  os.Getenv("POLICY_SOURCE"),
		AWSRegion:     os.Getenv("AWS_REGION"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		TrustHeaders:  parseBoolEnvDefault("TRUST_HEADERS", false),
		RequireAuth:   parseBoolEnvDefault("REQUIRE_AUTH", false),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		LogFormat:     os.Getenv("LOG_FORMAT"),
		Env:           os.Getenv("ENV"),
		ServerVersion: os.Getenv("SERVER_VERSION"),
		S3: S3Config{
			KeyID:    os.Getenv("S3_KEY_ID"),
			Secret:   os.Getenv("S3_SECRET"),
			Endpoint: os.Getenv("S3_ENDPOINT"),
			Region:   os.Getenv("S3_REGION"),
			URLStyle: os.Getenv("S3_URL_STYLE"),
		},
	}

	var err error
	if cfg.MaxRowsPerBlock, err = intEnv("MAX_ROWS_PER_BLOCK"); err != nil {
		return nil, err
	}
	var maxQueries int
	if maxQueries, err = intEnv("MAX_CONCURRENT_QUERIES"); err != nil {
		return nil, err
	}
	cfg.MaxConcurrentQueries = int64(maxQueries)
	if cfg.CursorTTL, err = durationEnv("CURSOR_TTL"); err != nil {
		return nil, err
	}
	if cfg.CursorSweepInterval, err = durationEnv("CURSOR_SWEEP_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT"); err != nil {
		return nil, err
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	cfg.DuckDBExts = splitList(os.Getenv("DUCKDB_EXTENSIONS"))
	cfg.AuditAdminGroups = splitList(os.Getenv("AUDIT_ADMIN_GROUPS"))

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = ":9090"
	}
	if cfg.FlightAddr == "" {
		cfg.FlightAddr = ":32010"
	}
	if cfg.AuditDBPath == "" {
		cfg.AuditDBPath = "vectorgate_audit.sqlite"
	}
	if len(cfg.DuckDBExts) == 0 {
		cfg.DuckDBExts = []string{"substrait"}
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = cfg.AWSRegion
	}
	if cfg.S3.URLStyle == "" && cfg.S3.Endpoint != "" {
		cfg.S3.URLStyle = "path"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	if cfg.MaxRowsPerBlock == 0 {
		cfg.MaxRowsPerBlock = 2048
	}
	if cfg.MaxConcurrentQueries == 0 {
		cfg.MaxConcurrentQueries = 16
	}
	if cfg.CursorTTL == 0 {
		cfg.CursorTTL = 10 * time.Minute
	}
	if cfg.CursorSweepInterval == 0 {
		cfg.CursorSweepInterval = time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if len(cfg.AuditAdminGroups) == 0 {
		cfg.AuditAdminGroups = []string{"admins"}
	}

	if cfg.MaxRowsPerBlock < 0 {
		return nil, fmt.Errorf("MAX_ROWS_PER_BLOCK must be positive")
	}
	if cfg.MaxConcurrentQueries < 0 {
		return nil, fmt.Errorf("MAX_CONCURRENT_QUERIES must be positive")
	}
	if cfg.S3.URLStyle != "" && cfg.S3.URLStyle != "path" && cfg.S3.URLStyle != "vhost" {
		return nil, fmt.Errorf("S3_URL_STYLE must be path or vhost, got %q", cfg.S3.URLStyle)
	}

	if cfg.JWTSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "JWT_SECRET not set: bearer tokens are not accepted")
	}
	if cfg.TrustHeaders {
		cfg.Warnings = append(cfg.Warnings, "TRUST_HEADERS enabled: callers may assert any identity")
	}
	if cfg.PolicySource == "" {
		cfg.Warnings = append(cfg.Warnings, "POLICY_SOURCE not set: starting with an empty policy set")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production (ENV=production)")
		}
		if cfg.TrustHeaders {
			return nil, fmt.Errorf("TRUST_HEADERS is not allowed in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		cfg.RequireAuth = true
	}

	return cfg, nil
}

func intEnv(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func durationEnv(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// environment wins over the file
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
