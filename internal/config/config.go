package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"sessionstore-go/internal/storage"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SESSIONSTORE_"

// Config holds all configuration for the application.
type Config struct {
	HTTPPort    int    `json:"http_port" yaml:"http_port" env:"HTTP_PORT" validate:"gte=0,lte=65535"`
	MetricsPort int    `json:"metrics_port" yaml:"metrics_port" env:"METRICS_PORT" validate:"gte=0,lte=65535"`
	LogLevel    string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	Store   StoreConfig   `json:"store" yaml:"store" envPrefix:"STORE_"`
	Sweeper SweeperConfig `json:"sweeper" yaml:"sweeper" envPrefix:"SWEEPER_"`
	Demo    DemoConfig    `json:"demo" yaml:"demo" envPrefix:"DEMO_"`
}

// StoreConfig selects and tunes the session backend.
type StoreConfig struct {
	Driver            string `json:"driver" yaml:"driver" env:"DRIVER" validate:"oneof=memory sqlite3 sqlite postgres redis"`
	DSN               string `json:"dsn" yaml:"dsn" env:"DSN" validate:"required_unless=Driver memory"`
	Table             string `json:"table" yaml:"table" env:"TABLE" validate:"required"`
	IDFormat          string `json:"id_format" yaml:"id_format" env:"ID_FORMAT" validate:"oneof=uuid ulid"`
	MaxCreateAttempts int    `json:"max_create_attempts" yaml:"max_create_attempts" env:"MAX_CREATE_ATTEMPTS" validate:"min=1"`
	// EncryptionKey, when set, seals payloads with AES-256-GCM. Hex, 32 bytes.
	EncryptionKey string `json:"encryption_key" yaml:"encryption_key" env:"ENCRYPTION_KEY" validate:"omitempty,hexadecimal,len=64"`

	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"min=1"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"min=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" validate:"gt=0"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME" validate:"gt=0"`
	BusyTimeout     Duration `json:"busy_timeout" yaml:"busy_timeout" env:"BUSY_TIMEOUT" validate:"gt=0"`
}

// SweeperConfig controls the background expiry sweep.
type SweeperConfig struct {
	Interval Duration `json:"interval" yaml:"interval" env:"INTERVAL" validate:"gt=0"`
}

// DemoConfig configures the counter demo handler.
type DemoConfig struct {
	CookieName string   `json:"cookie_name" yaml:"cookie_name" env:"COOKIE_NAME" validate:"required"`
	SessionTTL Duration `json:"session_ttl" yaml:"session_ttl" env:"SESSION_TTL" validate:"gt=0"`
}

// Duration is a wrapper around time.Duration that implements JSON, YAML and
// text unmarshaling.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalText implements encoding.TextUnmarshaler, used for env values.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		d.Duration = time.Duration(n)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration")
	}
	return d.UnmarshalText([]byte(s))
}

// Default returns a configuration that runs against a local SQLite file.
func Default() Config {
	pool := storage.DefaultConfig()
	return Config{
		HTTPPort:    8080,
		MetricsPort: 9090,
		LogLevel:    "info",
		Store: StoreConfig{
			Driver:            pool.Driver,
			DSN:               pool.DSN,
			Table:             pool.Table,
			IDFormat:          "uuid",
			MaxCreateAttempts: 5,
			MaxOpenConns:      pool.MaxOpenConns,
			MaxIdleConns:      pool.MaxIdleConns,
			ConnMaxLifetime:   Duration{pool.ConnMaxLifetime},
			ConnMaxIdleTime:   Duration{pool.ConnMaxIdleTime},
			BusyTimeout:       Duration{pool.BusyTimeout},
		},
		Sweeper: SweeperConfig{Interval: Duration{time.Minute}},
		Demo: DemoConfig{
			CookieName: "session_id",
			SessionTTL: Duration{10 * time.Minute},
		},
	}
}

// Load reads configuration from a JSON or YAML file, applies environment
// overrides and validates the result. An empty path starts from Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := unmarshal(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if c.Store.ConnMaxIdleTime.Duration > c.Store.ConnMaxLifetime.Duration {
		return fmt.Errorf("validation failed: store conn_max_idle_time exceeds conn_max_lifetime")
	}

	return nil
}

// StorageConfig maps the store section onto storage.Config.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:          c.Store.Driver,
		DSN:             c.Store.DSN,
		Table:           c.Store.Table,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime.Duration,
		ConnMaxIdleTime: c.Store.ConnMaxIdleTime.Duration,
		BusyTimeout:     c.Store.BusyTimeout.Duration,
	}
}
