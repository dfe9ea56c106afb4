// Package config loads taskpulse configuration from YAML, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

// RealtimeConfig tunes the websocket delivery layer.
type RealtimeConfig struct {
	SendBuffer       int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// RecurringConfig controls the daily recurring-task job.
type RecurringConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// RunAt is the local wall-clock time of the daily run, "HH:MM".
	RunAt         string `mapstructure:"run_at" yaml:"run_at"`
	Timezone      string `mapstructure:"timezone" yaml:"timezone"`
	ClampMonthEnd bool   `mapstructure:"clamp_month_end" yaml:"clamp_month_end"`
}

// ClientConfig holds settings for the CLI and watch client.
type ClientConfig struct {
	API string `mapstructure:"api" yaml:"api"`
}

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Realtime  RealtimeConfig  `mapstructure:"realtime" yaml:"realtime"`
	Recurring RecurringConfig `mapstructure:"recurring" yaml:"recurring"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
}

// Location resolves the recurring job's time zone; empty means local time.
func (c RecurringConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("recurring.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RunAtClock parses RunAt into hour and minute.
func (c RecurringConfig) RunAtClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.RunAt)
	if err != nil {
		return 0, 0, fmt.Errorf("recurring.run_at %q: expected HH:MM", c.RunAt)
	}
	return t.Hour(), t.Minute(), nil
}

// DefaultConfigPath returns ~/.config/taskpulse/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "taskpulse", "config.yaml")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "taskpulse.db")
	}
	return filepath.Join(home, ".taskpulse", "taskpulse.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:5000")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", defaultDBPath())
	v.SetDefault("database.url", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("realtime.ping_interval", 25*time.Second)
	v.SetDefault("realtime.handshake_timeout", 10*time.Second)
	v.SetDefault("realtime.allowed_origins", []string{})

	v.SetDefault("recurring.enabled", true)
	v.SetDefault("recurring.run_at", "00:00")
	v.SetDefault("recurring.timezone", "Local")
	v.SetDefault("recurring.clamp_month_end", false)

	v.SetDefault("client.api", "http://127.0.0.1:5000")
}

// Load reads the YAML file at path (missing file is fine), applies TASKPULSE_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q: expected sqlite or postgres", c.Database.Driver)
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if _, _, err := c.Recurring.RunAtClock(); err != nil {
		return err
	}
	if _, err := c.Recurring.Location(); err != nil {
		return err
	}
	return nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.Set("server", cfg.Server)
	v.Set("database", cfg.Database)
	v.Set("auth", cfg.Auth)
	v.Set("realtime", cfg.Realtime)
	v.Set("recurring", cfg.Recurring)
	v.Set("client", cfg.Client)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
