package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config holds all runtime configuration for the tenantpbx server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir         string
	DBDriver        string // "sqlite" or "postgres"
	DBDSN           string // postgres connection string
	HTTPPort        int
	LogLevel        string
	LogFormat       string // log output format: "text" or "json"
	JWTSecret       string // hex-encoded 32-byte secret for admin API tokens
	LookupTimeout   time.Duration
	DefaultContext  string
	FailoverContext string
	Presence        string // "sql" or "redis"
	RedisAddr       string // enables the redis document cache when set
	KafkaBrokers    string // comma-separated; empty publishes rule changes to the log only
	KafkaTopic      string
	RateLimit       float64 // requests per second per client IP; 0 disables
}

// defaults
const (
	defaultDataDir         = "./data"
	defaultDBDriver        = "sqlite"
	defaultHTTPPort        = 8080
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultLookupTimeout   = 500 * time.Millisecond
	defaultDefaultContext  = "default"
	defaultFailoverContext = "failover"
	defaultPresence        = "sql"
	defaultKafkaTopic      = "tenantpbx.rules"
	defaultRateLimit       = 50
)

// envPrefix is the prefix for all tenantpbx environment variables.
const envPrefix = "TENANTPBX_"

// Bind registers every configuration flag on fs and returns the config the
// flags write into. Call Resolve after fs has been parsed.
func Bind(fs *pflag.FlagSet) *Config {
	cfg := &Config{}

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the sqlite database")
	fs.StringVar(&cfg.DBDriver, "db-driver", defaultDBDriver, "rule store backend (sqlite, postgres)")
	fs.StringVar(&cfg.DBDSN, "db-dsn", "", "postgres connection string")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for admin API tokens (auto-generated if empty)")
	fs.DurationVar(&cfg.LookupTimeout, "lookup-timeout", defaultLookupTimeout, "time budget for one rule store or directory lookup")
	fs.StringVar(&cfg.DefaultContext, "default-context", defaultDefaultContext, "context resolved when a request names none")
	fs.StringVar(&cfg.FailoverContext, "failover-context", defaultFailoverContext, "context resolved after a failed bridge")
	fs.StringVar(&cfg.Presence, "presence", defaultPresence, "registration store (sql, redis)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for presence and the document cache")
	fs.StringVar(&cfg.KafkaBrokers, "kafka-brokers", "", "comma-separated kafka brokers for rule change events")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", defaultKafkaTopic, "kafka topic for rule change events")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", defaultRateLimit, "requests per second per client IP (0 disables)")

	return cfg
}

// Resolve applies env var overrides for flags not set on the command line
// and validates the result.
func (c *Config) Resolve(fs *pflag.FlagSet) error {
	applyEnvOverrides(fs, c)
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *pflag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})

	for _, flagName := range []string{
		"data-dir", "db-driver", "db-dsn", "http-port", "log-level", "log-format",
		"jwt-secret", "lookup-timeout", "default-context", "failover-context",
		"presence", "redis-addr", "kafka-brokers", "kafka-topic", "rate-limit",
	} {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar(flagName))
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "db-driver":
			cfg.DBDriver = val
		case "db-dsn":
			cfg.DBDSN = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "lookup-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.LookupTimeout = v
			}
		case "default-context":
			cfg.DefaultContext = val
		case "failover-context":
			cfg.FailoverContext = val
		case "presence":
			cfg.Presence = val
		case "redis-addr":
			cfg.RedisAddr = val
		case "kafka-brokers":
			cfg.KafkaBrokers = val
		case "kafka-topic":
			cfg.KafkaTopic = val
		case "rate-limit":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.RateLimit = v
			}
		}
	}
}

// envVar maps a flag name to its environment variable, e.g. http-port to
// TENANTPBX_HTTP_PORT.
func envVar(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	c.DBDriver = strings.ToLower(c.DBDriver)
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("db-dsn is required when db-driver is postgres")
		}
	default:
		return fmt.Errorf("db-driver must be one of sqlite, postgres; got %q", c.DBDriver)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.LookupTimeout <= 0 {
		return fmt.Errorf("lookup-timeout must be positive, got %s", c.LookupTimeout)
	}
	if c.DefaultContext == "" {
		return fmt.Errorf("default-context must not be empty")
	}

	c.Presence = strings.ToLower(c.Presence)
	switch c.Presence {
	case "sql":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis-addr is required when presence is redis")
		}
	default:
		return fmt.Errorf("presence must be one of sql, redis; got %q", c.Presence)
	}

	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		return fmt.Errorf("kafka-topic is required when kafka-brokers is set")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate-limit must not be negative, got %g", c.RateLimit)
	}

	return nil
}

// Brokers returns the configured kafka brokers, or nil when events are not
// published to kafka.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
