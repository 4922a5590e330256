package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "COURSE"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultEnvironment         = "development"
	defaultBaseURL             = "http://localhost:3000"
	defaultDatabaseDriver      = DriverSQLite
	defaultDatabasePath        = "course.db"
	defaultContentDir          = "content"
	defaultLogLevel            = "info"
	defaultCookieName          = "session"
	defaultSessionTTLDays      = 365
	defaultMagicLinkTTLMinutes = 15
	defaultAllowedOrigin       = "http://localhost:3000"
	defaultRateLimitCapacity   = 10
	defaultRateLimitInterval   = 6 * time.Second
	defaultAMQPQueue           = "course.progress"

	// EnvironmentProduction enables production-only behaviour such as secure cookies.
	EnvironmentProduction = "production"
	// DriverSQLite selects the embedded SQLite database.
	DriverSQLite          = "sqlite"
	// DriverPostgres selects a hosted Postgres database.
	DriverPostgres        = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	TrustedProxies    []string
	Environment       string
	BaseURL           string
	SigningSecret     string
	CookieName        string
	SessionTTL        time.Duration
	MagicLinkTTL      time.Duration
	DatabaseDriver    string
	DatabasePath      string
	DatabaseDSN       string
	ContentDir        string
	AllowedOrigins    []string
	RedisAddress      string
	RedisPassword     string
	RateLimitCapacity int
	RateLimitInterval time.Duration
	AMQPURL           string
	AMQPQueue         string
	LogLevel          string
}

// IsProduction reports whether the server runs in the production environment.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.trusted_proxies", "")
	configViper.SetDefault("app.environment", defaultEnvironment)
	configViper.SetDefault("app.base_url", defaultBaseURL)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.session_ttl_days", defaultSessionTTLDays)
	configViper.SetDefault("auth.magic_link_ttl_minutes", defaultMagicLinkTTLMinutes)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("content.dir", defaultContentDir)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigin)
	configViper.SetDefault("ratelimit.capacity", defaultRateLimitCapacity)
	configViper.SetDefault("ratelimit.refill_interval", defaultRateLimitInterval)
	configViper.SetDefault("amqp.queue", defaultAMQPQueue)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		TrustedProxies:    splitList(configViper.GetString("http.trusted_proxies")),
		Environment:       strings.ToLower(strings.TrimSpace(configViper.GetString("app.environment"))),
		BaseURL:           strings.TrimRight(strings.TrimSpace(configViper.GetString("app.base_url")), "/"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		CookieName:        strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		SessionTTL:        time.Duration(configViper.GetInt("auth.session_ttl_days")) * 24 * time.Hour,
		MagicLinkTTL:      time.Duration(configViper.GetInt("auth.magic_link_ttl_minutes")) * time.Minute,
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		ContentDir:        configViper.GetString("content.dir"),
		AllowedOrigins:    splitList(configViper.GetString("cors.allowed_origins")),
		RedisAddress:      strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:     configViper.GetString("redis.password"),
		RateLimitCapacity: configViper.GetInt("ratelimit.capacity"),
		RateLimitInterval: configViper.GetDuration("ratelimit.refill_interval"),
		AMQPURL:           strings.TrimSpace(configViper.GetString("amqp.url")),
		AMQPQueue:         strings.TrimSpace(configViper.GetString("amqp.queue")),
		LogLevel:          configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl_days must be positive")
	}
	if c.MagicLinkTTL <= 0 {
		return fmt.Errorf("auth.magic_link_ttl_minutes must be positive")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("app.base_url is invalid: %w", err)
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.RedisAddress != "" && (c.RateLimitCapacity <= 0 || c.RateLimitInterval <= 0) {
		return fmt.Errorf("ratelimit.capacity and ratelimit.refill_interval must be positive")
	}
	if c.AMQPURL != "" && c.AMQPQueue == "" {
		return fmt.Errorf("amqp.queue is required when amqp.url is set")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
