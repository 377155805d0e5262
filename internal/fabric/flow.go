// Package fabric manages forwarding state on the OpenFlow datapaths that
// connect the access points.
package fabric

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
)

const (
	EthTypeIPv4 uint16 = 0x0800
	EthTypeLLDP uint16 = 0x88cc
)

// Reserved OpenFlow 1.3 ports.
const (
	PortFlood      uint32 = 0xfffffffb
	PortController uint32 = 0xfffffffd
)

// Match selects flows. Zero-valued fields are wildcards.
type Match struct {
	InPort  uint32
	EthType uint16
	EthSrc  net.HardwareAddr
	EthDst  net.HardwareAddr
	IPv4Src net.IP
	IPv4Dst net.IP
}

// Covers reports whether every field set in m has the same value in flow.
// This is OpenFlow's non-strict delete rule.
func (m Match) Covers(flow Match) bool {
	if m.InPort != 0 && m.InPort != flow.InPort {
		return false
	}
	if m.EthType != 0 && m.EthType != flow.EthType {
		return false
	}
	if m.EthSrc != nil && !bytes.Equal(m.EthSrc, flow.EthSrc) {
		return false
	}
	if m.EthDst != nil && !bytes.Equal(m.EthDst, flow.EthDst) {
		return false
	}
	if m.IPv4Src != nil && !m.IPv4Src.Equal(flow.IPv4Src) {
		return false
	}
	if m.IPv4Dst != nil && !m.IPv4Dst.Equal(flow.IPv4Dst) {
		return false
	}
	return true
}

// String renders the match in ovs-ofctl syntax.
func (m Match) String() string {
	var parts []string
	if m.InPort != 0 {
		parts = append(parts, fmt.Sprintf("in_port=%d", m.InPort))
	}
	if m.EthType != 0 {
		parts = append(parts, fmt.Sprintf("dl_type=0x%04x", m.EthType))
	}
	if m.EthSrc != nil {
		parts = append(parts, "dl_src="+m.EthSrc.String())
	}
	if m.EthDst != nil {
		parts = append(parts, "dl_dst="+m.EthDst.String())
	}
	if m.IPv4Src != nil {
		parts = append(parts, "nw_src="+m.IPv4Src.String())
	}
	if m.IPv4Dst != nil {
		parts = append(parts, "nw_dst="+m.IPv4Dst.String())
	}
	return strings.Join(parts, ",")
}

// FlowMod is a flow to install.
type FlowMod struct {
	Priority    uint16
	Match       Match
	OutPort     uint32
	IdleTimeout uint16
}

func (f FlowMod) actions() string {
	switch f.OutPort {
	case PortController:
		return "CONTROLLER:65535"
	case PortFlood:
		return "FLOOD"
	default:
		return fmt.Sprintf("output:%d", f.OutPort)
	}
}

// String renders the flow in ovs-ofctl add-flow syntax.
func (f FlowMod) String() string {
	parts := []string{fmt.Sprintf("priority=%d", f.Priority)}
	if f.IdleTimeout > 0 {
		parts = append(parts, fmt.Sprintf("idle_timeout=%d", f.IdleTimeout))
	}
	if m := f.Match.String(); m != "" {
		parts = append(parts, m)
	}
	parts = append(parts, "actions="+f.actions())
	return strings.Join(parts, ",")
}

// Datapath is one switch of the fabric.
type Datapath interface {
	ID() uint64
	AddFlow(ctx context.Context, flow FlowMod) error
	// DeleteFlows removes every flow covered by match. Deleting nothing is
	// not an error.
	DeleteFlows(ctx context.Context, match Match) error
}

// Standalone is implemented by datapaths that forward on their own and have
// no packet-in channel back to this process. Their table-miss is left alone.
type Standalone interface {
	Standalone() bool
}
