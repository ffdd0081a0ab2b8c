package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// Default values for commands
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// DefaultsConfig holds default values for various commands
type DefaultsConfig struct {
	// simulator-test command defaults
	DeviceType string `mapstructure:"device_type"`
	OSVersion  string `mapstructure:"os_version"`
	NamePrefix string `mapstructure:"name_prefix"`

	// Shared test defaults
	TestType              string `mapstructure:"test_type"`
	StartupTimeoutSec     int    `mapstructure:"startup_timeout_sec"`
	DestinationTimeoutSec int    `mapstructure:"destination_timeout_sec"`
	WorkDir               string `mapstructure:"work_dir"`
	OutputDir             string `mapstructure:"output_dir"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "text",
		Quiet:   false,
		Verbose: false,
		Defaults: DefaultsConfig{
			NamePrefix:        "New",
			StartupTimeoutSec: 150,
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("xtr")
	v.SetConfigType("yaml")

	// Config paths, lowest precedence first
	v.AddConfigPath("/etc/xtr/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "xtr"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".xtr")
	}
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("XTR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "XTR_FORMAT")
	v.BindEnv("quiet", "XTR_QUIET")
	v.BindEnv("verbose", "XTR_VERBOSE")
	v.BindEnv("defaults.device_type", "XTR_DEVICE_TYPE")
	v.BindEnv("defaults.os_version", "XTR_OS_VERSION")

	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("defaults.name_prefix", cfg.Defaults.NamePrefix)
	v.SetDefault("defaults.startup_timeout_sec", cfg.Defaults.StartupTimeoutSec)

	// Missing config file is fine, defaults apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	return findConfigFile()
}

// findConfigFile probes the config locations in precedence order and returns
// the first existing file.
func findConfigFile() string {
	var candidates []string
	candidates = append(candidates, ".xtr.yaml", ".xtr.yml", "xtr.yaml", "xtr.yml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".xtr.yaml"), filepath.Join(home, ".xtr.yml"))
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(configDir, "xtr", "xtr.yaml"),
			filepath.Join(configDir, "xtr", "xtr.yml"))
	}
	candidates = append(candidates, "/etc/xtr/xtr.yaml", "/etc/xtr/xtr.yml")

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path
			}
			return abs
		}
	}
	return ""
}

// applyEnvOverrides applies XTR_* environment variables on top of a loaded
// config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XTR_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("XTR_QUIET"); v == "true" || v == "1" {
		cfg.Quiet = true
	}
	if v := os.Getenv("XTR_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("XTR_DEVICE_TYPE"); v != "" {
		cfg.Defaults.DeviceType = v
	}
	if v := os.Getenv("XTR_OS_VERSION"); v != "" {
		cfg.Defaults.OSVersion = v
	}
}

// Sample returns a commented sample config file
func Sample() string {
	return `# xtr configuration file
# Place at ~/.xtr.yaml, ./xtr.yaml or /etc/xtr/xtr.yaml

# Output format: text or ndjson
format: text

# Suppress non-essential output
quiet: false

# Enable debug logging
verbose: false

defaults:
  # Simulator device type for simulator-test, e.g. "iPhone 15".
  # Defaults to the latest supported iPhone.
  # device_type: iPhone 15

  # Simulator OS version, e.g. "17.2". Defaults to the newest runtime
  # supported by the device type.
  # os_version: "17.2"

  # Name prefix for throwaway simulators
  name_prefix: New

  # Test type: xctest, xcuitest or logic-test. Autodetected when unset.
  # test_type: xctest

  # Seconds to wait for the first test suite to start
  startup_timeout_sec: 150

  # Seconds xcodebuild waits for the destination to be ready
  # destination_timeout_sec: 0

  # Reusable scratch and result directories. Temp dirs are used when unset.
  # work_dir: /tmp/xtr-work
  # output_dir: /tmp/xtr-output
`
}
