// Package config loads harness settings: defaults, then a YAML file, then
// HARNESS_* environment variables.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. HARNESS_STORE_DRIVER.
const EnvPrefix = "HARNESS"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
	DriverBlob   = "blob"
)

// Config is the complete harness configuration.
type Config struct {
	Log     LogConfig     `yaml:"log" env:"LOG"`
	Flows   FlowsConfig   `yaml:"flows" env:"FLOWS"`
	Store   StoreConfig   `yaml:"store" env:"STORE"`
	HTTP    HTTPConfig    `yaml:"http" env:"HTTP"`
	Runtime RuntimeConfig `yaml:"runtime" env:"RUNTIME"`
	Lock    LockConfig    `yaml:"lock" env:"LOCK"`
	Exec    ExecConfig    `yaml:"exec" env:"EXEC"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is text or json.
	Format string `yaml:"format" env:"FORMAT"`
}

// FlowsConfig locates flow definitions.
type FlowsConfig struct {
	Dir string `yaml:"dir" env:"DIR"`
}

// StoreConfig selects where recordings go.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is the directory of the file driver or the DSN of the sqlite driver.
	Path      string `yaml:"path" env:"PATH"`
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	BucketURL string `yaml:"bucket_url" env:"BUCKET_URL"`
	// Redact lists key patterns whose values are masked before storage.
	Redact []string `yaml:"redact" env:"REDACT"`
	// EncryptionKey is a 32 byte AES key, hex or base64 encoded.
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// ShutdownTimeout bounds the graceful stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RuntimeConfig tunes the engine.
type RuntimeConfig struct {
	MaxConcurrency  int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	MailboxCapacity int `yaml:"mailbox_capacity" env:"MAILBOX_CAPACITY"`
	// MaxInputSize caps injected messages and replies, in bytes.
	MaxInputSize int `yaml:"max_input_size" env:"MAX_INPUT_SIZE"`
}

// LockConfig enables the distributed run lock (redis driver only).
type LockConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

// ExecConfig configures the exec node.
type ExecConfig struct {
	// Tools is the YAML or JSON file listing allow-listed commands.
	Tools string `yaml:"tools" env:"TOOLS"`
	// AutoApprove skips the confirmation prompt before a command runs.
	AutoApprove bool `yaml:"auto_approve" env:"AUTO_APPROVE"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Flows: FlowsConfig{Dir: "flows"},
		Store: StoreConfig{Driver: DriverMemory, Path: ".harness/runs"},
		HTTP:  HTTPConfig{Addr: ":8080", ShutdownTimeout: 5 * time.Second},
		Runtime: RuntimeConfig{
			MaxConcurrency:  4,
			MailboxCapacity: 64,
			MaxInputSize:    64 * 1024,
		},
		Lock: LockConfig{TTL: 30 * time.Second},
		Exec: ExecConfig{Tools: "tools.yaml"},
	}
}

// Load builds the configuration: defaults, then path (a missing file is
// fine), then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		value, ok := os.LookupEnv(envKey)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the %s driver", c.Store.Driver))
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
		}
	case DriverBlob:
		if c.Store.BucketURL == "" {
			errs = append(errs, errors.New("store.bucket_url is required for the blob driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, file, redis, sqlite, blob", c.Store.Driver))
	}
	if c.Store.EncryptionKey != "" {
		if _, err := c.Store.Key(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Runtime.MaxConcurrency < 1 {
		errs = append(errs, errors.New("runtime.max_concurrency must be positive"))
	}
	if c.Runtime.MailboxCapacity < 1 {
		errs = append(errs, errors.New("runtime.mailbox_capacity must be positive"))
	}
	if c.Runtime.MaxInputSize < 1 {
		errs = append(errs, errors.New("runtime.max_input_size must be positive"))
	}

	if c.Lock.Enabled {
		if c.Store.Driver != DriverRedis {
			errs = append(errs, errors.New("lock.enabled requires the redis store driver"))
		}
		if c.Lock.TTL <= 0 {
			errs = append(errs, errors.New("lock.ttl must be positive"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Key decodes EncryptionKey. It returns nil when encryption is off.
func (s StoreConfig) Key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	if key, err := hex.DecodeString(s.EncryptionKey); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(s.EncryptionKey); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, errors.New("store.encryption_key must be 32 bytes, hex or base64 encoded")
}
