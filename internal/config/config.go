// Package config loads exportq configuration from an optional YAML file and
// EXPORTQ_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/me/exportq/internal/taskmgr"
	"github.com/me/exportq/internal/validate"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// EXPORTQ_MANAGER_MAX_ACTIVE.
const EnvPrefix = "EXPORTQ"

// Config holds configuration for the exportq commands.
type Config struct {
	Manager taskmgr.Config `mapstructure:"manager"`
	Log     LogConfig      `mapstructure:"log"`

	// DBPath is the SQLite journal path. Empty resolves to ~/.exportq/exportq.db.
	DBPath string `mapstructure:"db_path"`

	// StatusAddr, when set, serves the status API while a run is in progress.
	StatusAddr string `mapstructure:"status_addr"`
}

// LogConfig selects logger level and format.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Manager: taskmgr.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if non-empty), applies environment overrides on top of
// the defaults and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := validate.Struct("exportq", cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("manager.max_active", d.Manager.MaxActive)
	v.SetDefault("manager.max_waiting", d.Manager.MaxWaiting)
	v.SetDefault("manager.poll_interval", d.Manager.PollInterval)
	v.SetDefault("manager.call_timeout", d.Manager.CallTimeout)
	v.SetDefault("manager.verbose", d.Manager.Verbose)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("status_addr", d.StatusAddr)
}

// ResolveDBPath returns cfg.DBPath, or the default journal location under the
// user's home directory, creating its parent directory.
func (c Config) ResolveDBPath() (string, error) {
	if c.DBPath == ":memory:" {
		return c.DBPath, nil
	}
	path := c.DBPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, ".exportq", "exportq.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	return path, nil
}
