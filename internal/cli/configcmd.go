package cli

import (
	"fmt"

	"github.com/mobileci/xtr/internal/config"
	"github.com/mobileci/xtr/internal/output"
)

// ConfigCmd groups the configuration subcommands.
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is in use"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample config file"`
}

// ConfigShowCmd prints the effective configuration.
type ConfigShowCmd struct{}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteEvent("config", map[string]interface{}{
			"format":  cfg.Format,
			"quiet":   cfg.Quiet,
			"verbose": cfg.Verbose,
			"defaults": map[string]interface{}{
				"device_type":             cfg.Defaults.DeviceType,
				"os_version":              cfg.Defaults.OSVersion,
				"name_prefix":             cfg.Defaults.NamePrefix,
				"test_type":               cfg.Defaults.TestType,
				"startup_timeout_sec":     cfg.Defaults.StartupTimeoutSec,
				"destination_timeout_sec": cfg.Defaults.DestinationTimeoutSec,
				"work_dir":                cfg.Defaults.WorkDir,
				"output_dir":              cfg.Defaults.OutputDir,
			},
		})
		return nil
	}
	fmt.Fprintln(globals.Stdout, "Current Configuration:")
	fmt.Fprintf(globals.Stdout, "  format: %s\n", cfg.Format)
	fmt.Fprintf(globals.Stdout, "  quiet: %v\n", cfg.Quiet)
	fmt.Fprintf(globals.Stdout, "  verbose: %v\n", cfg.Verbose)
	fmt.Fprintln(globals.Stdout, "  Defaults:")
	fmt.Fprintf(globals.Stdout, "    device_type: %s\n", cfg.Defaults.DeviceType)
	fmt.Fprintf(globals.Stdout, "    os_version: %s\n", cfg.Defaults.OSVersion)
	fmt.Fprintf(globals.Stdout, "    name_prefix: %s\n", cfg.Defaults.NamePrefix)
	fmt.Fprintf(globals.Stdout, "    test_type: %s\n", cfg.Defaults.TestType)
	fmt.Fprintf(globals.Stdout, "    startup_timeout_sec: %d\n", cfg.Defaults.StartupTimeoutSec)
	fmt.Fprintf(globals.Stdout, "    destination_timeout_sec: %d\n", cfg.Defaults.DestinationTimeoutSec)
	fmt.Fprintf(globals.Stdout, "    work_dir: %s\n", cfg.Defaults.WorkDir)
	fmt.Fprintf(globals.Stdout, "    output_dir: %s\n", cfg.Defaults.OutputDir)
	return nil
}

// ConfigPathCmd prints the config file location.
type ConfigPathCmd struct{}

// Run executes the config path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()
	if globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteEvent("config_path", map[string]interface{}{
			"path":  path,
			"found": path != "",
		})
		return nil
	}
	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found")
		fmt.Fprintln(globals.Stdout, "Run 'xtr config generate' to print a sample")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a sample config file.
type ConfigGenerateCmd struct{}

// Run executes the config generate command
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	fmt.Fprint(globals.Stdout, config.Sample())
	return nil
}
