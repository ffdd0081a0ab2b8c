package cli

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/mobileci/xtr/internal/output"
	"github.com/mobileci/xtr/internal/simulator"
)

// DevicesCmd lists simulators known to CoreSimulator.
type DevicesCmd struct {
	OS        string `help:"Filter by OS runtime, e.g. 'iOS 17.2'"`
	Available bool   `help:"Only show available devices"`
}

// Run executes the devices command
func (c *DevicesCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	mgr := simulator.NewManager()
	devices, err := mgr.ListDevices(ctx)
	if err != nil {
		return commandError(globals, err)
	}

	if c.OS != "" {
		// Runtime identifiers look like com.apple.CoreSimulator.SimRuntime.iOS-17-2,
		// accept "iOS 17.2" and friends.
		want := strings.NewReplacer(" ", "-", ".", "-").Replace(c.OS)
		devices = lo.Filter(devices, func(d simulator.DeviceInfo, _ int) bool {
			return strings.Contains(d.Runtime, want)
		})
	}
	if c.Available {
		devices = lo.Filter(devices, func(d simulator.DeviceInfo, _ int) bool {
			return d.IsAvailable
		})
	}

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		for _, d := range devices {
			w.WriteEvent("device", map[string]interface{}{
				"udid":      d.UDID,
				"name":      d.Name,
				"state":     d.State,
				"os":        d.Runtime,
				"available": d.IsAvailable,
			})
		}
		return nil
	}

	if len(devices) == 0 {
		fmt.Fprintln(globals.Stdout, "No simulators found")
		return nil
	}
	table := tablewriter.NewTable(globals.Stdout)
	table.Header("Name", "OS", "State", "UDID")
	for _, d := range devices {
		table.Append(d.Name, d.Runtime, d.State, d.UDID)
	}
	return table.Render()
}
