// Package config handles configuration loading for tandem. It supports XDG
// config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for tandem.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Server       ServerConfig       `mapstructure:"server"`
	DB           DBConfig           `mapstructure:"db"`
	Delegation   DelegationConfig   `mapstructure:"delegation"`
}

// OrchestratorConfig holds scheduling settings.
type OrchestratorConfig struct {
	// MaxWorkers is the ceiling on concurrently running tasks.
	MaxWorkers int `mapstructure:"max_workers"`
	// TaskTimeout is the default per-task deadline.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// ConflictPolicy resolves overlapping writes between concurrent tasks.
	ConflictPolicy string `mapstructure:"conflict_policy"`
}

// ServerConfig holds settings for the A2A receiving server.
type ServerConfig struct {
	// Addr is the listen address for the A2A endpoint.
	Addr string `mapstructure:"addr"`
	// JWTSecret signs and verifies transport bearer tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DBConfig holds persistence settings.
type DBConfig struct {
	// Path is the SQLite database file. Empty uses the XDG data path.
	Path string `mapstructure:"path"`
}

// DelegationConfig holds A2A protocol settings.
type DelegationConfig struct {
	// SameOwnerBypass skips the consent check when both agents share an
	// owner. Off by default.
	SameOwnerBypass bool `mapstructure:"same_owner_bypass"`
	// RetryMaxAttempts bounds delivery retries per task.
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"`
	// RetryBaseDelay is the initial backoff between delivery attempts.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (TANDEM_*)
// 2. Project config (.tandem.yaml in current directory or a parent)
// 3. User config (~/.config/tandem/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("TANDEM")
	v.AutomaticEnv()
	v.BindEnv("server.jwt_secret", "TANDEM_JWT_SECRET")
	v.BindEnv("server.addr", "TANDEM_ADDR")
	v.BindEnv("db.path", "TANDEM_DB_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Server.JWTSecret = os.ExpandEnv(cfg.Server.JWTSecret)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Server.JWTSecret = os.ExpandEnv(cfg.Server.JWTSecret)

	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("orchestrator.max_workers", cfg.Orchestrator.MaxWorkers)
	v.Set("orchestrator.task_timeout", cfg.Orchestrator.TaskTimeout.String())
	v.Set("orchestrator.conflict_policy", cfg.Orchestrator.ConflictPolicy)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.jwt_secret", cfg.Server.JWTSecret)
	v.Set("db.path", cfg.DB.Path)
	v.Set("delegation.same_owner_bypass", cfg.Delegation.SameOwnerBypass)
	v.Set("delegation.retry_max_attempts", cfg.Delegation.RetryMaxAttempts)
	v.Set("delegation.retry_base_delay", cfg.Delegation.RetryBaseDelay.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.max_workers", 4)
	v.SetDefault("orchestrator.task_timeout", "10m")
	v.SetDefault("orchestrator.conflict_policy", "manual")

	v.SetDefault("server.addr", ":8420")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("db.path", "")

	v.SetDefault("delegation.same_owner_bypass", false)
	v.SetDefault("delegation.retry_max_attempts", 3)
	v.SetDefault("delegation.retry_base_delay", "500ms")
}

// getUserConfigDir returns the XDG config directory for tandem.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tandem")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "tandem")
	}
	return filepath.Join(home, ".config", "tandem")
}

// findProjectConfig searches for .tandem.yaml in the current directory and
// its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".tandem.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxWorkers:     4,
			TaskTimeout:    10 * time.Minute,
			ConflictPolicy: "manual",
		},
		Server: ServerConfig{
			Addr: ":8420",
		},
		Delegation: DelegationConfig{
			SameOwnerBypass:  false,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   500 * time.Millisecond,
		},
	}
}
