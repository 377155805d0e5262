package iw

import (
	"context"
	"fmt"
	"strings"

	"github.com/fbettag/apsteer/internal/cmdrun"
)

// StationPlaceholder is replaced by the station name in a station exec prefix.
const StationPlaceholder = "{station}"

// Client issues iw commands for AP and station interfaces.
type Client struct {
	runner      cmdrun.Runner
	binary      string
	stationExec []string
}

// NewClient creates a client. stationExec is the command prefix used to
// reach a station's network namespace, e.g. ["./m", "{station}"]; empty
// means station commands run directly on the host.
func NewClient(runner cmdrun.Runner, stationExec []string) *Client {
	return &Client{
		runner:      runner,
		binary:      "iw",
		stationExec: stationExec,
	}
}

// Info returns SSID and address of an AP interface.
func (c *Client) Info(ctx context.Context, iface string) (InterfaceInfo, error) {
	out, err := c.runner.Run(ctx, c.binary, "dev", iface, "info")
	if err != nil {
		return InterfaceInfo{}, fmt.Errorf("iw info %s: %w", iface, err)
	}
	return ParseInfo(out)
}

// StationDump lists stations associated with an AP interface.
func (c *Client) StationDump(ctx context.Context, iface string) ([]StationCounters, error) {
	out, err := c.runner.Run(ctx, c.binary, "dev", iface, "station", "dump")
	if err != nil {
		return nil, fmt.Errorf("iw station dump %s: %w", iface, err)
	}
	return ParseStationDump(out)
}

// Scan returns the signal strength per SSID visible from a station interface.
func (c *Client) Scan(ctx context.Context, station, iface string) (map[string]float64, error) {
	out, err := c.runStation(ctx, station, "dev", iface, "scan")
	if err != nil {
		return nil, fmt.Errorf("iw scan %s: %w", iface, err)
	}
	return ParseScan(out)
}

// Disconnect drops the station's current association.
func (c *Client) Disconnect(ctx context.Context, station, iface string) (string, error) {
	return c.runStation(ctx, station, "dev", iface, "disconnect")
}

// Connect associates the station interface with an SSID.
func (c *Client) Connect(ctx context.Context, station, iface, ssid string) (string, error) {
	return c.runStation(ctx, station, "dev", iface, "connect", ssid)
}

func (c *Client) runStation(ctx context.Context, station string, args ...string) (string, error) {
	if len(c.stationExec) == 0 {
		return c.runner.Run(ctx, c.binary, args...)
	}

	argv := make([]string, 0, len(c.stationExec)+len(args))
	for _, part := range c.stationExec {
		argv = append(argv, strings.ReplaceAll(part, StationPlaceholder, station))
	}
	argv = append(argv, c.binary)
	argv = append(argv, args...)
	return c.runner.Run(ctx, argv[0], argv[1:]...)
}
