package fabric

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/fbettag/apsteer/internal/cmdrun"
	"github.com/fbettag/apsteer/internal/mapping"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func station(t *testing.T) mapping.Entry {
	return mapping.Entry{
		Name:   "sta1",
		MAC:    mustMAC(t, "00:00:00:00:00:01"),
		IP:     net.ParseIP("10.0.0.1"),
		Prefix: 8,
	}
}

func ipv4Flow(src, dst string, port uint32) FlowMod {
	return FlowMod{
		Priority:    LearnedFlowPriority,
		IdleTimeout: LearnedFlowIdleTimeout,
		OutPort:     port,
		Match:       Match{EthType: EthTypeIPv4, IPv4Src: net.ParseIP(src).To4(), IPv4Dst: net.ParseIP(dst).To4()},
	}
}

type recorder struct {
	deletes map[uint64]int
}

func (r *recorder) FlowDeletes(dpid uint64, n int) {
	if r.deletes == nil {
		r.deletes = make(map[uint64]int)
	}
	r.deletes[dpid] += n
}

func TestMatch(t *testing.T) {
	mac := mustMAC(t, "00:00:00:00:00:01")
	flow := Match{EthType: EthTypeIPv4, EthSrc: mac, IPv4Src: net.ParseIP("10.0.0.1").To4(), IPv4Dst: net.ParseIP("10.0.0.2").To4()}

	t.Run("covers", func(t *testing.T) {
		assert.True(t, Match{}.Covers(flow))
		assert.True(t, Match{EthType: EthTypeIPv4, IPv4Src: net.ParseIP("10.0.0.1")}.Covers(flow))
		assert.True(t, Match{EthSrc: mac}.Covers(flow))
		assert.False(t, Match{EthType: EthTypeIPv4, IPv4Dst: net.ParseIP("10.0.0.1")}.Covers(flow))
		assert.False(t, Match{EthDst: mac}.Covers(flow))
		assert.False(t, Match{EthType: EthTypeIPv4}.Covers(Match{}))
	})

	t.Run("ovs syntax", func(t *testing.T) {
		assert.Equal(t, "dl_type=0x0800,nw_dst=10.0.0.1", Match{EthType: EthTypeIPv4, IPv4Dst: net.ParseIP("10.0.0.1")}.String())
		assert.Equal(t, "dl_src=00:00:00:00:00:01", Match{EthSrc: mac}.String())
		assert.Equal(t, "priority=0,actions=CONTROLLER:65535", FlowMod{OutPort: PortController}.String())
		assert.Equal(t,
			"priority=1,idle_timeout=30,dl_type=0x0800,nw_src=10.0.0.1,nw_dst=10.0.0.2,actions=output:2",
			ipv4Flow("10.0.0.1", "10.0.0.2", 2).String())
	})
}

func TestInvalidator(t *testing.T) {
	ctx := context.Background()
	sta := station(t)

	t.Run("removes every rule for the station and keeps the rest", func(t *testing.T) {
		dp1 := NewMemoryDatapath(1)
		dp2 := NewMemoryDatapath(2)
		for _, dp := range []*MemoryDatapath{dp1, dp2} {
			require.NoError(t, dp.AddFlow(ctx, FlowMod{OutPort: PortController}))
			require.NoError(t, dp.AddFlow(ctx, ipv4Flow("10.0.0.1", "10.0.0.2", 2)))
			require.NoError(t, dp.AddFlow(ctx, ipv4Flow("10.0.0.2", "10.0.0.1", 1)))
			require.NoError(t, dp.AddFlow(ctx, ipv4Flow("10.0.0.3", "10.0.0.2", 2)))
		}
		require.NoError(t, dp2.AddFlow(ctx, FlowMod{Priority: 1, OutPort: 3, Match: Match{EthDst: sta.MAC}}))

		rec := &recorder{}
		inv := NewInvalidator([]Datapath{dp1, dp2}, quietLogger()).WithRecorder(rec)

		n, err := inv.Invalidate(ctx, sta)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, map[uint64]int{1: 4, 2: 4}, rec.deletes)

		for _, dp := range []*MemoryDatapath{dp1, dp2} {
			flows := dp.Flows()
			require.Len(t, flows, 2)
			assert.Equal(t, PortController, flows[0].OutPort)
			assert.Equal(t, "10.0.0.3", flows[1].Match.IPv4Src.String())
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		dp := NewMemoryDatapath(1)
		require.NoError(t, dp.AddFlow(ctx, ipv4Flow("10.0.0.1", "10.0.0.2", 2)))
		require.NoError(t, dp.AddFlow(ctx, ipv4Flow("10.0.0.3", "10.0.0.2", 2)))
		inv := NewInvalidator([]Datapath{dp}, quietLogger())

		_, err := inv.Invalidate(ctx, sta)
		require.NoError(t, err)
		once := dp.Flows()

		_, err = inv.Invalidate(ctx, sta)
		require.NoError(t, err)
		assert.Equal(t, once, dp.Flows())
	})

	t.Run("no datapaths", func(t *testing.T) {
		n, err := NewInvalidator(nil, quietLogger()).Invalidate(ctx, sta)
		assert.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("station without address only matches hardware address", func(t *testing.T) {
		assert.Len(t, StationMatches(mapping.Entry{Name: "x", MAC: sta.MAC}), 2)
		assert.Len(t, StationMatches(sta), 4)
	})

	t.Run("failing datapath does not stop the others", func(t *testing.T) {
		runner := cmdrun.NewFakeRunner()
		for _, m := range StationMatches(sta) {
			runner.Fail("ovs-ofctl -O OpenFlow13 del-flows br0 "+m.String(), errors.New("bridge missing"))
		}
		bad := NewOVSDatapath(7, "br0", runner)
		good := NewMemoryDatapath(1)
		require.NoError(t, good.AddFlow(ctx, ipv4Flow("10.0.0.1", "10.0.0.2", 2)))

		n, err := NewInvalidator([]Datapath{bad, good}, quietLogger()).Invalidate(ctx, sta)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "0000000000000007")
		assert.Equal(t, 4, n)
		assert.Empty(t, good.Flows())
	})
}

func TestOVSDatapath(t *testing.T) {
	ctx := context.Background()
	runner := cmdrun.NewFakeRunner()
	runner.Set("ovs-ofctl -O OpenFlow13 add-flow s1 priority=0,actions=CONTROLLER:65535", "")
	runner.Set("ovs-ofctl -O OpenFlow13 del-flows s1 dl_dst=00:00:00:00:00:01", "")

	dp := NewOVSDatapath(1, "s1", runner)
	require.NoError(t, dp.AddFlow(ctx, FlowMod{OutPort: PortController}))
	require.NoError(t, dp.DeleteFlows(ctx, Match{EthDst: mustMAC(t, "00:00:00:00:00:01")}))
	assert.Len(t, runner.Calls(), 2)

	err := dp.DeleteFlows(ctx, Match{EthSrc: mustMAC(t, "00:00:00:00:00:01")})
	assert.Error(t, err)
}

func frame(t *testing.T, src, dst string, srcIP, dstIP string) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       mustMAC(t, src),
		DstMAC:       mustMAC(t, dst),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	udp := &layers.UDP{SrcPort: 5001, DstPort: 5001}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("iperf"))))
	return buf.Bytes()
}

func TestLearningSwitch(t *testing.T) {
	ctx := context.Background()
	const (
		h1 = "00:00:00:00:00:01"
		h2 = "00:00:00:00:00:02"
	)

	t.Run("register installs table-miss", func(t *testing.T) {
		dp := NewMemoryDatapath(1)
		require.NoError(t, NewLearningSwitch(quietLogger()).Register(ctx, dp))
		require.Len(t, dp.Flows(), 1)
		assert.Equal(t, FlowMod{Priority: 0, OutPort: PortController}, dp.Flows()[0])
	})

	t.Run("register leaves standalone bridges alone", func(t *testing.T) {
		runner := cmdrun.NewFakeRunner()
		dp := NewOVSDatapath(1, "s1", runner)
		require.NoError(t, NewLearningSwitch(quietLogger()).Register(ctx, dp))
		assert.Empty(t, runner.Calls())
	})

	t.Run("floods unknown then installs flow for known destination", func(t *testing.T) {
		dp := NewMemoryDatapath(1)
		sw := NewLearningSwitch(quietLogger())
		require.NoError(t, sw.Register(ctx, dp))

		v, err := sw.PacketIn(ctx, dp, 1, frame(t, h1, h2, "10.0.0.1", "10.0.0.2"))
		require.NoError(t, err)
		assert.Equal(t, PortFlood, v.OutPort)
		assert.Len(t, dp.Flows(), 1)

		port, ok := sw.learnedPort(1, mustMAC(t, h1))
		assert.True(t, ok)
		assert.Equal(t, uint32(1), port)

		v, err = sw.PacketIn(ctx, dp, 2, frame(t, h2, h1, "10.0.0.2", "10.0.0.1"))
		require.NoError(t, err)
		assert.Equal(t, uint32(1), v.OutPort)

		flows := dp.Flows()
		require.Len(t, flows, 2)
		assert.Equal(t, ipv4Flow("10.0.0.2", "10.0.0.1", 1), flows[1])
	})

	t.Run("ignores LLDP", func(t *testing.T) {
		dp := NewMemoryDatapath(1)
		sw := NewLearningSwitch(quietLogger())

		eth := &layers.Ethernet{
			SrcMAC:       mustMAC(t, h1),
			DstMAC:       mustMAC(t, "01:80:c2:00:00:0e"),
			EthernetType: layers.EthernetTypeLinkLayerDiscovery,
		}
		buf := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(make([]byte, 46))))

		v, err := sw.PacketIn(ctx, dp, 1, buf.Bytes())
		require.NoError(t, err)
		assert.True(t, v.Ignore)
		_, ok := sw.learnedPort(1, mustMAC(t, h1))
		assert.False(t, ok)
	})

	t.Run("rejects short frames", func(t *testing.T) {
		_, err := NewLearningSwitch(quietLogger()).PacketIn(ctx, NewMemoryDatapath(1), 1, []byte{0x01})
		assert.ErrorIs(t, err, ErrNotEthernet)
	})

	t.Run("forget drops learned port", func(t *testing.T) {
		dp := NewMemoryDatapath(1)
		sw := NewLearningSwitch(quietLogger())
		_, err := sw.PacketIn(ctx, dp, 3, frame(t, h1, h2, "10.0.0.1", "10.0.0.2"))
		require.NoError(t, err)

		sw.Forget(mustMAC(t, h1))
		_, ok := sw.learnedPort(1, mustMAC(t, h1))
		assert.False(t, ok)
	})
}
