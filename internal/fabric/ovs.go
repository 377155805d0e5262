package fabric

import (
	"context"
	"fmt"

	"github.com/fbettag/apsteer/internal/cmdrun"
)

// OVSDatapath drives an Open vSwitch bridge through ovs-ofctl. The bridge
// keeps its own controller, so it is Standalone.
type OVSDatapath struct {
	id     uint64
	bridge string
	runner cmdrun.Runner
}

func NewOVSDatapath(id uint64, bridge string, runner cmdrun.Runner) *OVSDatapath {
	return &OVSDatapath{id: id, bridge: bridge, runner: runner}
}

func (d *OVSDatapath) ID() uint64 {
	return d.id
}

func (d *OVSDatapath) Standalone() bool {
	return true
}

func (d *OVSDatapath) AddFlow(ctx context.Context, flow FlowMod) error {
	if _, err := d.runner.Run(ctx, "ovs-ofctl", "-O", "OpenFlow13", "add-flow", d.bridge, flow.String()); err != nil {
		return fmt.Errorf("failed to add flow on %s: %w", d.bridge, err)
	}
	return nil
}

func (d *OVSDatapath) DeleteFlows(ctx context.Context, match Match) error {
	if _, err := d.runner.Run(ctx, "ovs-ofctl", "-O", "OpenFlow13", "del-flows", d.bridge, match.String()); err != nil {
		return fmt.Errorf("failed to delete flows on %s: %w", d.bridge, err)
	}
	return nil
}
