// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Validation    ValidationConfig    `yaml:"validation"`
	Sealing       SealingConfig       `yaml:"sealing"`
	Store         StoreConfig         `yaml:"store"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms   []string      `yaml:"algorithms"`
	Claims       ClaimsConfig  `yaml:"claims"`
}

// ClaimsConfig names the token claims that identify the caller. Nested
// claims use dots, e.g. "agency.npn".
type ClaimsConfig struct {
	Subject  string `yaml:"subject"`
	Producer string `yaml:"producer"`
}

// DefinitionsConfig describes where to find application definition files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// ValidationConfig tunes answer validation.
type ValidationConfig struct {
	// Timezone is the IANA zone in which "today" is computed.
	Timezone string `yaml:"timezone"`
	// AllocationTarget is the default total for allocation tables.
	AllocationTarget decimal.Decimal `yaml:"allocation_target"`
}

// SealingConfig names the key material used to encrypt tax identifiers.
type SealingConfig struct {
	KeyEnv string `yaml:"key_env"`
	KeyID  string `yaml:"key_id"`
}

// StoreConfig describes submission persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Store   IdempotencyStoreConfig `yaml:"store"`
}

// IdempotencyStoreConfig describes idempotency persistence settings.
type IdempotencyStoreConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// EventsConfig describes where accepted submissions are announced.
type EventsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`

	// CreateTopic creates Topic at startup when it is missing. A replication
	// factor of -1 uses the broker default.
	CreateTopic       bool  `yaml:"create_topic"`
	Partitions        int32 `yaml:"partitions"`
	ReplicationFactor int16 `yaml:"replication_factor"`

	// Breaker opens after FailureThreshold consecutive publish failures.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig describes the circuit breaker guarding event publishing.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // json or console
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings. Exporter "none"
// keeps trace context propagation (HTTP and event headers) without exporting.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			Claims:       ClaimsConfig{Subject: "sub", Producer: "producer_id"},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
		},
		Validation: ValidationConfig{
			Timezone:         "UTC",
			AllocationTarget: decimal.NewFromInt(100),
		},
		Sealing: SealingConfig{
			KeyEnv: "EAPP_SEALING_KEY",
			KeyID:  "k1",
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "EAPP_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Store: IdempotencyStoreConfig{
				Driver:     "memory",
				AddrEnv:    "EAPP_REDIS_ADDR",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Events: EventsConfig{
			Topic:             "eapp.application.submitted",
			ClientID:          "eappd",
			Partitions:        6,
			ReplicationFactor: -1,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Cooldown:         30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load layers a YAML file and then EAPP_* environment variables over
// Defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Location resolves the validation timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Validation.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Validation.Timezone)
}

// Validate reports every problem at once, one joined error per field.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port %d out of range", c.Server.Port)
	check(c.Identity.Issuer != "", "identity.issuer is required")
	check(c.Identity.JWKSURL != "", "identity.jwks_url is required")
	check(c.Identity.Audience != "", "identity.audience is required")
	check(c.Identity.Claims.Producer != "", "identity.claims.producer is required")
	check(len(c.Definitions.Directories) > 0, "definitions.directories must name at least one directory")
	if _, err := c.Location(); err != nil {
		check(false, "validation.timezone: %w", err)
	}
	check(c.Validation.AllocationTarget.IsPositive(), "validation.allocation_target must be positive")
	check(c.Sealing.KeyEnv != "", "sealing.key_env is required")
	check(slices.Contains([]string{"memory", "postgres"}, c.Store.Driver),
		"store.driver %q must be memory or postgres", c.Store.Driver)
	check(slices.Contains([]string{"memory", "redis"}, c.Idempotency.Store.Driver),
		"idempotency.store.driver %q must be memory or redis", c.Idempotency.Store.Driver)
	if ev := c.Events; ev.Enabled {
		check(len(ev.Brokers) > 0, "events.brokers is required when events are enabled")
		check(ev.Topic != "", "events.topic is required when events are enabled")
		check(!ev.CreateTopic || ev.Partitions > 0, "events.partitions must be at least 1 when create_topic is set")
	}
	return errors.Join(errs...)
}

// applyEnvOverrides covers the settings deployments change most often.
// An unparseable port is ignored.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	strs := map[string]*string{
		"EAPP_IDENTITY_ISSUER":          &cfg.Identity.Issuer,
		"EAPP_IDENTITY_JWKS_URL":        &cfg.Identity.JWKSURL,
		"EAPP_IDENTITY_AUDIENCE":        &cfg.Identity.Audience,
		"EAPP_OBSERVABILITY_LOG_LEVEL":  &cfg.Observability.LogLevel,
		"EAPP_OBSERVABILITY_LOG_FORMAT": &cfg.Observability.LogFormat,
		"EAPP_VALIDATION_TIMEZONE":      &cfg.Validation.Timezone,
		"EAPP_STORE_DRIVER":             &cfg.Store.Driver,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup("EAPP_SERVER_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := lookup("EAPP_EVENTS_BROKERS"); ok && v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
		cfg.Events.Enabled = true
	}
}
