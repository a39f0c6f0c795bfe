// AngelaMos | 2026
// config.go

package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const minJWTSecretLen = 32

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	JWT       JWTConfig       `koanf:"jwt"`
	Anomaly   AnomalyConfig   `koanf:"anomaly"`
	Session   SessionConfig   `koanf:"session"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

// JWTConfig holds the symmetric signing secret for access tokens and the
// lifetimes of both token kinds.
type JWTConfig struct {
	Secret             string        `koanf:"secret"`
	AccessTokenExpire  time.Duration `koanf:"access_token_expire"`
	RefreshTokenExpire time.Duration `koanf:"refresh_token_expire"`
	Issuer             string        `koanf:"issuer"`
	Audience           string        `koanf:"audience"`
}

// AnomalyConfig tunes the advisory sign-in heuristics. None of these values
// is a security boundary.
type AnomalyConfig struct {
	MaxActiveSessions int           `koanf:"max_active_sessions"`
	MaxRecentDevices  int           `koanf:"max_recent_devices"`
	RecentWindow      time.Duration `koanf:"recent_window"`
}

type SessionConfig struct {
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	CleanupGrace    time.Duration `koanf:"cleanup_grace"`
}

type RateLimitConfig struct {
	Requests       int           `koanf:"requests"`
	Window         time.Duration `koanf:"window"`
	Burst          int           `koanf:"burst"`
	SignInRequests int           `koanf:"signin_requests"`
	SignInBurst    int           `koanf:"signin_burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Load builds a Config from defaults, an optional YAML file and the
// environment, in that order of precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

var defaults = map[string]any{
	"app.name":        "goldsave",
	"app.version":     "1.0.0",
	"app.environment": "development",

	"server.host":             "0.0.0.0",
	"server.port":             8080,
	"server.read_timeout":     "30s",
	"server.write_timeout":    "30s",
	"server.idle_timeout":     "120s",
	"server.shutdown_timeout": "15s",

	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  "1h",
	"database.conn_max_idle_time": "30m",
	"database.auto_migrate":       false,

	"redis.pool_size":      10,
	"redis.min_idle_conns": 5,

	"jwt.access_token_expire":  "15m",
	"jwt.refresh_token_expire": "720h",
	"jwt.issuer":               "goldsave",
	"jwt.audience":             "goldsave-api",

	"anomaly.max_active_sessions": 5,
	"anomaly.max_recent_devices":  3,
	"anomaly.recent_window":       "1h",

	"session.cleanup_interval": "1h",
	"session.cleanup_grace":    "0s",

	"rate_limit.requests":        100,
	"rate_limit.window":          "1m",
	"rate_limit.burst":           20,
	"rate_limit.signin_requests": 10,
	"rate_limit.signin_burst":    5,

	"cors.allowed_origins": []string{"http://localhost:3000"},
	"cors.allowed_methods": []string{
		"GET",
		"POST",
		"PUT",
		"DELETE",
		"OPTIONS",
	},
	"cors.allowed_headers": []string{
		"Accept",
		"Authorization",
		"Content-Type",
		"X-Request-ID",
	},
	"cors.allow_credentials": true,
	"cors.max_age":           300,

	"log.level":  "info",
	"log.format": "json",

	"otel.enabled":      false,
	"otel.insecure":     true,
	"otel.sample_rate":  0.1,
	"otel.service_name": "goldsave",

	"metrics.enabled": true,
	"metrics.path":    "/metrics",
}

func loadDefaults(k *koanf.Koanf) error {
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                 "database.url",
	"DATABASE_AUTO_MIGRATE":        "database.auto_migrate",
	"REDIS_URL":                    "redis.url",
	"ENVIRONMENT":                  "app.environment",
	"HOST":                         "server.host",
	"PORT":                         "server.port",
	"LOG_LEVEL":                    "log.level",
	"LOG_FORMAT":                   "log.format",
	"JWT_SECRET":                   "jwt.secret",
	"JWT_ACCESS_TOKEN_EXPIRE":      "jwt.access_token_expire",
	"JWT_REFRESH_TOKEN_EXPIRE":     "jwt.refresh_token_expire",
	"JWT_ISSUER":                   "jwt.issuer",
	"JWT_AUDIENCE":                 "jwt.audience",
	"ANOMALY_MAX_ACTIVE_SESSIONS":  "anomaly.max_active_sessions",
	"ANOMALY_MAX_RECENT_DEVICES":   "anomaly.max_recent_devices",
	"ANOMALY_RECENT_WINDOW":        "anomaly.recent_window",
	"SESSION_CLEANUP_INTERVAL":     "session.cleanup_interval",
	"SESSION_CLEANUP_GRACE":        "session.cleanup_grace",
	"RATE_LIMIT_REQUESTS":          "rate_limit.requests",
	"RATE_LIMIT_WINDOW":            "rate_limit.window",
	"RATE_LIMIT_BURST":             "rate_limit.burst",
	"RATE_LIMIT_SIGNIN_REQUESTS":   "rate_limit.signin_requests",
	"RATE_LIMIT_SIGNIN_BURST":      "rate_limit.signin_burst",
	"OTEL_ENDPOINT":                "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT":  "otel.endpoint",
	"OTEL_SERVICE_NAME":            "otel.service_name",
	"OTEL_ENABLED":                 "otel.enabled",
	"OTEL_INSECURE":                "otel.insecure",
	"OTEL_SAMPLE_RATE":             "otel.sample_rate",
	"METRICS_ENABLED":              "metrics.enabled",
	"METRICS_PATH":                 "metrics.path",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if len(c.JWT.Secret) < minJWTSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen)
	}

	if c.JWT.AccessTokenExpire <= 0 || c.JWT.RefreshTokenExpire <= 0 {
		return fmt.Errorf("jwt token lifetimes must be positive")
	}

	if c.Anomaly.MaxActiveSessions < 1 || c.Anomaly.MaxRecentDevices < 1 {
		return fmt.Errorf("anomaly thresholds must be at least 1")
	}

	if c.Anomaly.RecentWindow <= 0 {
		return fmt.Errorf("anomaly.recent_window must be positive")
	}

	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session.cleanup_interval must be positive")
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.App.Environment == "production" {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
