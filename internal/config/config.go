// Package config loads application configuration from an optional YAML file
// overlaid by OUTREACH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Nested keys are separated by a double underscore:
// OUTREACH_SERVER__METRICS_PORT sets server.metrics_port.
const EnvPrefix = "OUTREACH_"

// Config holds application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Log       LogConfig       `koanf:"log"`
	CORS      CORSConfig      `koanf:"cors"`
	Queue     QueueConfig     `koanf:"queue"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Transport TransportConfig `koanf:"transport"`
	Audit     AuditConfig     `koanf:"audit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds storage configuration.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver" validate:"oneof=postgres sqlite"`
	URL             string        `koanf:"url" validate:"required_if=Driver postgres"`
	Path            string        `koanf:"path" validate:"required_if=Driver sqlite"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=1"`
}

// RedisConfig configures the optional Redis daily counter store.
type RedisConfig struct {
	Enabled   bool          `koanf:"enabled"`
	URL       string        `koanf:"url" validate:"required_if=Enabled true"`
	KeyPrefix string        `koanf:"key_prefix"`
	// TTL expires day records. Zero, the default, keeps them like the SQL
	// stores do.
	TTL       time.Duration `koanf:"ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// QueueConfig holds queue and quota configuration.
type QueueConfig struct {
	MaxAttempts       int `koanf:"max_attempts" validate:"gte=1"`
	DefaultDailyLimit int `koanf:"default_daily_limit" validate:"gte=1"`
	DefaultListLimit  int `koanf:"default_list_limit" validate:"gte=1"`
	MaxListLimit      int `koanf:"max_list_limit" validate:"gtefield=DefaultListLimit"`
}

// DispatchConfig holds dispatcher configuration.
type DispatchConfig struct {
	BatchSize         int           `koanf:"batch_size" validate:"gte=1"`
	InitialBackoff    time.Duration `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff        time.Duration `koanf:"max_backoff" validate:"gtefield=InitialBackoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier" validate:"gte=1"`
	SendTimeout       time.Duration `koanf:"send_timeout"`
	AuditTimeout      time.Duration `koanf:"audit_timeout"`
	PersistTimeout    time.Duration `koanf:"persist_timeout"`
}

// TransportConfig selects and configures the mail transport.
type TransportConfig struct {
	Provider    string        `koanf:"provider" validate:"oneof=smtp api simulator"`
	FromAddress string        `koanf:"from_address" validate:"omitempty,email"`
	FromName    string        `koanf:"from_name"`
	RateLimit   float64       `koanf:"rate_limit" validate:"gte=0"`
	RateBurst   int           `koanf:"rate_burst" validate:"gte=0"`
	Breaker     BreakerConfig `koanf:"breaker"`
	SMTP        SMTPConfig    `koanf:"smtp"`
	API         APIConfig     `koanf:"api"`
}

// BreakerConfig configures the transport circuit breaker.
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Timeout      time.Duration `koanf:"timeout"`
	Interval     time.Duration `koanf:"interval"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gte=0,lte=1"`
}

// SMTPConfig holds SMTP relay configuration.
type SMTPConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	User            string `koanf:"user"`
	Password        string `koanf:"password"`
	InsecureSkipTLS bool   `koanf:"insecure_skip_tls"`
}

// APIConfig holds HTTP email API configuration.
type APIConfig struct {
	Endpoint string        `koanf:"endpoint" validate:"omitempty,url"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AuditConfig selects where deliveries are recorded.
type AuditConfig struct {
	Database bool       `koanf:"database"`
	AMQP     AMQPConfig `koanf:"amqp"`
}

// AMQPConfig configures the AMQP event publisher.
type AMQPConfig struct {
	Enabled     bool          `koanf:"enabled"`
	URL         string        `koanf:"url" validate:"required_if=Enabled true"`
	Exchange    string        `koanf:"exchange"`
	RoutingKey  string        `koanf:"routing_key"`
	// DialTimeout caps connection setup. A shorter audit deadline wins.
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      90 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Path:            "outreach.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Redis: RedisConfig{
			KeyPrefix: "outreach:quota",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Queue: QueueConfig{
			MaxAttempts:       3,
			DefaultDailyLimit: 20,
			DefaultListLimit:  50,
			MaxListLimit:      500,
		},
		Dispatch: DispatchConfig{
			BatchSize:         5,
			InitialBackoff:    2 * time.Minute,
			MaxBackoff:        2 * time.Hour,
			BackoffMultiplier: 2.0,
			SendTimeout:       30 * time.Second,
			AuditTimeout:      5 * time.Second,
			PersistTimeout:    10 * time.Second,
		},
		Transport: TransportConfig{
			Provider:  "simulator",
			FromName:  "Outreach Team",
			RateLimit: 0,
			RateBurst: 1,
			Breaker: BreakerConfig{
				Enabled:      true,
				Timeout:      30 * time.Second,
				Interval:     time.Minute,
				MinRequests:  3,
				FailureRatio: 0.6,
			},
			SMTP: SMTPConfig{
				Port: 587,
			},
			API: APIConfig{
				Timeout: 10 * time.Second,
			},
		},
		Audit: AuditConfig{
			Database: true,
			AMQP: AMQPConfig{
				Exchange:    "outreach.events",
				RoutingKey:  "email.sent",
				DialTimeout: 5 * time.Second,
			},
		},
	}
}

// Load reads configuration. path may be empty or point to a missing file,
// in which case only defaults and environment variables apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps OUTREACH_SERVER__METRICS_PORT to server.metrics_port.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// splitList expands comma-separated values coming from env variables.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks field constraints and provider-specific requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	t := c.Transport
	switch t.Provider {
	case "smtp":
		if t.SMTP.Host == "" {
			return errors.New("invalid config: transport.smtp.host is required when provider is smtp")
		}
		if t.FromAddress == "" {
			return errors.New("invalid config: transport.from_address is required when provider is smtp")
		}
	case "api":
		if t.API.Endpoint == "" || t.API.APIKey == "" {
			return errors.New("invalid config: transport.api.endpoint and transport.api.api_key are required when provider is api")
		}
		if t.FromAddress == "" {
			return errors.New("invalid config: transport.from_address is required when provider is api")
		}
	}
	return nil
}
