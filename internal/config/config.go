package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"lidora/internal/fees"
)

// Config holds all configuration for the order engine
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Fees     FeesConfig     `yaml:"fees"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig governs the HTTP API
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	Backend     string `yaml:"backend"` // memory|postgres|sqlite
	SQLitePath  string `yaml:"sqlite_path"`
	MaxAttempts int    `yaml:"max_attempts"`
	Migrations  string `yaml:"migrations"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxConns int32  `yaml:"max_conns"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// GatewayConfig selects and configures the payment processor
type GatewayConfig struct {
	Provider  string `yaml:"provider"` // stripe|memory
	SecretKey string `yaml:"secret_key"`
	Currency  string `yaml:"currency"`
}

// FeesConfig holds fee rates as decimal strings
type FeesConfig struct {
	PlatformRate   string `yaml:"platform_rate"`
	ProcessorRate  string `yaml:"processor_rate"`
	ProcessorFixed string `yaml:"processor_fixed"`
	ServiceRate    string `yaml:"service_rate"`
}

// LoggingConfig controls log verbosity
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Store: StoreConfig{
			Backend:     "memory",
			SQLitePath:  "lidora.db",
			MaxAttempts: 5,
			Migrations:  "migrations",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "lidora",
			Database: "lidora",
			MaxConns: 25,
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			User: "guest",
		},
		Gateway: GatewayConfig{
			Provider: "memory",
			Currency: "usd",
		},
		Fees: FeesConfig{
			PlatformRate:   "0.10",
			ProcessorRate:  "0.029",
			ProcessorFixed: "0.30",
			ServiceRate:    "0.05",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file, then applies LIDORA_*
// environment overrides and validates the result.
func Load(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s value %q: %w", key, v, err)
			}
			*dst = n
		}
		return nil
	}

	setString("LIDORA_STORE_BACKEND", &c.Store.Backend)
	setString("LIDORA_SQLITE_PATH", &c.Store.SQLitePath)
	setString("LIDORA_DB_HOST", &c.Database.Host)
	setString("LIDORA_DB_USER", &c.Database.User)
	setString("LIDORA_DB_PASSWORD", &c.Database.Password)
	setString("LIDORA_DB_NAME", &c.Database.Database)
	setString("LIDORA_RABBITMQ_HOST", &c.RabbitMQ.Host)
	setString("LIDORA_RABBITMQ_PASSWORD", &c.RabbitMQ.Password)
	setString("LIDORA_GATEWAY_PROVIDER", &c.Gateway.Provider)
	setString("LIDORA_STRIPE_SECRET_KEY", &c.Gateway.SecretKey)
	setString("LIDORA_LOG_LEVEL", &c.Logging.Level)

	if err := setInt("LIDORA_HTTP_PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := setInt("LIDORA_DB_PORT", &c.Database.Port); err != nil {
		return err
	}
	if v := os.Getenv("LIDORA_RABBITMQ_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LIDORA_RABBITMQ_ENABLED value %q: %w", v, err)
		}
		c.RabbitMQ.Enabled = b
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Store.Backend {
	case "memory", "postgres":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store.backend: %s", c.Store.Backend)
	}
	if c.Store.MaxAttempts < 1 {
		return fmt.Errorf("store.max_attempts must be at least 1")
	}
	switch c.Gateway.Provider {
	case "memory":
	case "stripe":
		if c.Gateway.SecretKey == "" {
			return fmt.Errorf("gateway.secret_key is required for the stripe provider")
		}
	default:
		return fmt.Errorf("unknown gateway.provider: %s", c.Gateway.Provider)
	}
	if _, err := c.Fees.Schedule(); err != nil {
		return err
	}
	return nil
}

// Schedule parses the configured rates.
func (f FeesConfig) Schedule() (fees.Schedule, error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("invalid fees.%s value %q: %w", name, v, err)
		}
		if d.IsNegative() {
			return decimal.Decimal{}, fmt.Errorf("fees.%s must not be negative", name)
		}
		return d, nil
	}

	var s fees.Schedule
	var err error
	if s.PlatformRate, err = parse("platform_rate", f.PlatformRate); err != nil {
		return fees.Schedule{}, err
	}
	if s.ProcessorRate, err = parse("processor_rate", f.ProcessorRate); err != nil {
		return fees.Schedule{}, err
	}
	if s.ProcessorFixed, err = parse("processor_fixed", f.ProcessorFixed); err != nil {
		return fees.Schedule{}, err
	}
	if s.ServiceRate, err = parse("service_rate", f.ServiceRate); err != nil {
		return fees.Schedule{}, err
	}
	return s, nil
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}
