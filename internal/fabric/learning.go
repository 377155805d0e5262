package fabric

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
)

const (
	// LearnedFlowPriority is the priority of IPv4 flows installed on packet-in.
	LearnedFlowPriority uint16 = 1
	// LearnedFlowIdleTimeout is the idle timeout of learned flows, in seconds.
	LearnedFlowIdleTimeout uint16 = 30
)

var ErrNotEthernet = errors.New("frame has no ethernet header")

// Verdict is what to do with the packet that caused a packet-in.
type Verdict struct {
	OutPort uint32
	Ignore  bool
}

// LearningSwitch is an L2 learning switch that installs IPv4 flows for
// known destinations and floods everything else.
type LearningSwitch struct {
	mu        sync.Mutex
	macToPort map[uint64]map[string]uint32
	logger    *logrus.Logger
}

func NewLearningSwitch(logger *logrus.Logger) *LearningSwitch {
	return &LearningSwitch{
		macToPort: make(map[uint64]map[string]uint32),
		logger:    logger,
	}
}

// Register installs the table-miss flow that sends unmatched packets to
// the controller. Standalone datapaths keep their own table-miss since
// their packet-ins never reach PacketIn.
func (s *LearningSwitch) Register(ctx context.Context, dp Datapath) error {
	s.mu.Lock()
	if s.macToPort[dp.ID()] == nil {
		s.macToPort[dp.ID()] = make(map[string]uint32)
	}
	s.mu.Unlock()

	log := s.logger.WithField("dpid", fmt.Sprintf("%016x", dp.ID()))
	if sa, ok := dp.(Standalone); ok && sa.Standalone() {
		log.Info("Datapath forwards standalone, table-miss left untouched")
		return nil
	}

	miss := FlowMod{Priority: 0, OutPort: PortController}
	if err := dp.AddFlow(ctx, miss); err != nil {
		return fmt.Errorf("failed to install table-miss flow: %w", err)
	}
	log.Info("Datapath registered")
	return nil
}

// PacketIn learns the source of frame and decides where it goes. When the
// destination is known and the frame is IPv4, a flow is installed so later
// packets bypass the controller.
func (s *LearningSwitch) PacketIn(ctx context.Context, dp Datapath, inPort uint32, frame []byte) (Verdict, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return Verdict{Ignore: true}, ErrNotEthernet
	}
	eth := ethLayer.(*layers.Ethernet)

	if eth.EthernetType == layers.EthernetTypeLinkLayerDiscovery {
		return Verdict{Ignore: true}, nil
	}

	dpid := dp.ID()
	out := PortFlood

	s.mu.Lock()
	table := s.macToPort[dpid]
	if table == nil {
		table = make(map[string]uint32)
		s.macToPort[dpid] = table
	}
	table[eth.SrcMAC.String()] = inPort
	if port, ok := table[eth.DstMAC.String()]; ok {
		out = port
	}
	s.mu.Unlock()

	if out == PortFlood {
		return Verdict{OutPort: out}, nil
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip := ipLayer.(*layers.IPv4)
		flow := FlowMod{
			Priority:    LearnedFlowPriority,
			IdleTimeout: LearnedFlowIdleTimeout,
			OutPort:     out,
			Match: Match{
				EthType: EthTypeIPv4,
				IPv4Src: cloneIP(ip.SrcIP),
				IPv4Dst: cloneIP(ip.DstIP),
			},
		}
		if err := dp.AddFlow(ctx, flow); err != nil {
			return Verdict{OutPort: out}, fmt.Errorf("failed to install learned flow: %w", err)
		}
	}

	return Verdict{OutPort: out}, nil
}

func (s *LearningSwitch) learnedPort(dpid uint64, mac net.HardwareAddr) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	port, ok := s.macToPort[dpid][mac.String()]
	return port, ok
}

// Forget drops a MAC from every datapath table.
func (s *LearningSwitch) Forget(mac net.HardwareAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range s.macToPort {
		delete(table, mac.String())
	}
}

func cloneIP(ip net.IP) net.IP {
	return append(net.IP(nil), ip.To4()...)
}
