// Package config provides configuration management for the anonvpn client.
// It handles loading, saving, and validating settings, and applies
// environment overrides on top of the YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/scheduler"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// StateDir holds the persisted engine state.
	StateDir string `yaml:"state_dir"`
	// StoreBackend is "file" or "sqlite".
	StoreBackend string `yaml:"store_backend"`
	// Server is the server chosen with the select command.
	Server  string        `yaml:"server,omitempty"`
	Engine  EngineConfig  `yaml:"engine"`
	Connect ConnectConfig `yaml:"connect"`
	Epoch   EpochConfig   `yaml:"epoch"`
	Tunnel  TunnelConfig  `yaml:"tunnel"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Notifications enables desktop notifications.
	Notifications bool `yaml:"notifications"`
	// SaveCredentials keeps the login in the keyring so an expired
	// credential can be renewed unattended.
	SaveCredentials bool `yaml:"save_credentials"`
}

// EngineConfig locates the credential engine executable.
type EngineConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectConfig controls connect retries.
type ConnectConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// EpochConfig mirrors the service epoch layout, in seconds.
type EpochConfig struct {
	Length    int64 `yaml:"length"`
	Buffer    int64 `yaml:"buffer"`
	Tolerance int64 `yaml:"tolerance"`
}

// TunnelConfig controls the WireGuard interface.
type TunnelConfig struct {
	Interface string `yaml:"interface"`
	// TunnelOnly routes only the tunnel subnets instead of all traffic.
	TunnelOnly  bool     `yaml:"tunnel_only"`
	DNS         []string `yaml:"dns,omitempty"`
	HealthCheck bool     `yaml:"health_check"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StateDir:     common.DefaultStateDir,
		StoreBackend: common.StoreBackendFile,
		Engine: EngineConfig{
			Command: "anonvpn-engine",
			Timeout: common.EngineTimeout,
		},
		Connect: ConnectConfig{
			MaxRetries: common.ConnectMaxRetries,
			RetryDelay: common.ConnectRetryDelay,
		},
		Epoch: EpochConfig{
			Length:    common.EpochLength,
			Buffer:    common.EpochBuffer,
			Tolerance: common.TimeSyncTolerance,
		},
		Tunnel: TunnelConfig{
			Interface:   common.DefaultInterface,
			HealthCheck: true,
		},
		LogLevel:      "info",
		Notifications: true,
	}
}

// Path returns the default configuration file location.
func Path() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from the default file and applies
// environment overrides. If the file doesn't exist, defaults are used.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from path. Environment overrides come
// from a .env file next to it, a .env file in the working directory and
// the process environment, in increasing priority.
func LoadFrom(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	env, err := readEnv(filepath.Join(filepath.Dir(path), common.EnvFileName), common.EnvFileName)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing %s: %w", common.ErrConfigLoad, path, err)
	}
	return cfg, nil
}

// readEnv merges .env files with the process environment. Missing files
// are skipped.
func readEnv(files ...string) (map[string]string, error) {
	env := map[string]string{}
	for _, f := range files {
		values, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", common.ErrConfigLoad, f, err)
		}
		for k, v := range values {
			env[k] = v
		}
	}
	for _, k := range []string{common.EnvStateDir, common.EnvEngine, common.EnvStore, common.EnvLogLevel} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(env map[string]string) {
	if v := env[common.EnvStateDir]; v != "" {
		c.StateDir = v
	}
	if fields := strings.Fields(env[common.EnvEngine]); len(fields) > 0 {
		c.Engine.Command = fields[0]
		c.Engine.Args = fields[1:]
	}
	if v := env[common.EnvStore]; v != "" {
		c.StoreBackend = v
	}
	if v := env[common.EnvLogLevel]; v != "" {
		c.LogLevel = v
	}
}

// Validate verifies that configuration values are usable.
func (c *Config) Validate() error {
	c.StateDir = common.ExpandHome(c.StateDir)
	if c.StateDir == "" {
		return fmt.Errorf("%w: state_dir must be set", common.ErrInvalidConfig)
	}
	switch c.StoreBackend {
	case common.StoreBackendFile, common.StoreBackendSQLite:
	default:
		return fmt.Errorf("%w: store_backend must be %q or %q, got %q",
			common.ErrInvalidConfig, common.StoreBackendFile, common.StoreBackendSQLite, c.StoreBackend)
	}
	if c.Engine.Command == "" {
		return fmt.Errorf("%w: engine.command must be set", common.ErrInvalidConfig)
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("%w: engine.timeout must be positive", common.ErrInvalidConfig)
	}
	if c.Connect.MaxRetries < 0 {
		return fmt.Errorf("%w: connect.max_retries must not be negative", common.ErrInvalidConfig)
	}
	if c.Connect.RetryDelay < 0 {
		return fmt.Errorf("%w: connect.retry_delay must not be negative", common.ErrInvalidConfig)
	}
	if err := c.SchedulerEpoch().Validate(); err != nil {
		return err
	}
	if c.Tunnel.Interface == "" || len(c.Tunnel.Interface) > 15 {
		return fmt.Errorf("%w: tunnel.interface must be 1 to 15 characters", common.ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", common.ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// Update applies change to the configuration stored at path and writes it
// back. Only the file contents are rewritten; overrides applied by LoadFrom
// never reach the file.
func Update(path string, change func(c *Config)) error {
	cfg, err := readFile(path)
	if err != nil {
		return err
	}
	change(cfg)

	check := *cfg
	if err := check.Validate(); err != nil {
		return err
	}
	return cfg.SaveTo(path)
}

// SchedulerEpoch returns the epoch layout for the refresh scheduler.
func (c *Config) SchedulerEpoch() scheduler.Epoch {
	return scheduler.Epoch{
		Length:    c.Epoch.Length,
		Buffer:    c.Epoch.Buffer,
		Tolerance: c.Epoch.Tolerance,
	}
}

// Save saves the configuration to the default file.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo saves the configuration to path.
func (c *Config) SaveTo(path string) error {
	if err := common.EnsurePrivateDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("%w: creating config directory: %w", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: serializing configuration: %w", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %w", common.ErrConfigSave, err)
	}
	if err := common.ChownToInvoker(path); err != nil {
		return fmt.Errorf("%w: %w", common.ErrConfigSave, err)
	}
	return nil
}
