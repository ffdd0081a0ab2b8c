// Package cli wires the command surface: test runs on existing devices,
// throwaway-simulator runs, device listing and config management.
package cli

import (
	"io"
	"os"

	"github.com/mobileci/xtr/internal/config"
)

// CLI is the root command structure parsed by kong.
type CLI struct {
	Format  string `help:"Output format: text or ndjson" enum:"text,ndjson" default:"${config_format}"`
	Quiet   bool   `short:"q" help:"Suppress non-essential output"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Test          TestCmd          `cmd:"" help:"Run tests against an existing device or simulator"`
	SimulatorTest SimulatorTestCmd `cmd:"" name:"simulator-test" help:"Run tests on a fresh throwaway simulator"`
	Devices       DevicesCmd       `cmd:"" help:"List simulators known to CoreSimulator"`
	Config        ConfigCmd        `cmd:"" help:"Show or generate configuration"`
	Version       VersionCmd       `cmd:"" help:"Show version information"`
}

// Globals carries cross-command state into every Run.
type Globals struct {
	Format  string
	Quiet   bool
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	logger *runLogger
}

// NewGlobalsWithConfig builds Globals from parsed flags with config
// fallbacks.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	g := &Globals{
		Format:  c.Format,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	g.logger = newRunLogger(g)
	return g
}

// Debug logs a debug message when --verbose is set.
func (g *Globals) Debug(format string, args ...interface{}) {
	if g.logger != nil {
		g.logger.Debug(format, args...)
	}
}
