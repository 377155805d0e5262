package main

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fbettag/apsteer/internal/agent"
	"github.com/fbettag/apsteer/internal/cmdrun"
	"github.com/fbettag/apsteer/internal/collector"
	"github.com/fbettag/apsteer/internal/config"
	"github.com/fbettag/apsteer/internal/controller"
	"github.com/fbettag/apsteer/internal/database"
	"github.com/fbettag/apsteer/internal/fabric"
	"github.com/fbettag/apsteer/internal/iw"
	"github.com/fbettag/apsteer/internal/mapping"
	"github.com/fbettag/apsteer/internal/rate"
	"github.com/fbettag/apsteer/internal/reassoc"
	"github.com/fbettag/apsteer/internal/scanner"
	"github.com/fbettag/apsteer/internal/transport"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func runServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoSigs: true, NoLog: true})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestBuildDatapaths(t *testing.T) {
	dps := []config.DatapathConfig{{DPID: 1, Bridge: "s1"}, {DPID: 2, Bridge: "s2"}}

	memory := buildDatapaths(config.FabricConfig{Driver: config.DriverMemory, Datapaths: dps}, nil)
	require.Len(t, memory, 2)
	assert.IsType(t, &fabric.MemoryDatapath{}, memory[0])
	assert.Equal(t, uint64(2), memory[1].ID())

	ovs := buildDatapaths(config.FabricConfig{Driver: config.DriverOVS, Datapaths: dps}, cmdrun.NewFakeRunner())
	require.Len(t, ovs, 2)
	assert.IsType(t, &fabric.OVSDatapath{}, ovs[0])
	assert.Equal(t, uint64(1), ovs[0].ID())
}

// staticSource reports fixed stations per AP.
type staticSource map[string]collector.APState

func (s staticSource) APState(_ context.Context, ap collector.AP) (collector.APState, error) {
	return s[ap.Name], nil
}

type idle struct{}

func (idle) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestAgentAndControllerOverNATS(t *testing.T) {
	srv := runServer(t)
	logger := quietLogger()

	table, err := mapping.Parse(strings.NewReader(strings.Join([]string{
		"00:00:00:00:00:02 sta1 10.0.0.2/8",
		"00:00:00:00:00:03 sta2 10.0.0.3/8",
		"00:00:00:00:00:04 sta3 10.0.0.4/8",
	}, "\n")))
	require.NoError(t, err)

	db, err := database.Initialize(filepath.Join(t.TempDir(), "apsteer.db"))
	require.NoError(t, err)
	defer db.Close()

	datapaths := buildDatapaths(config.FabricConfig{
		Driver:    config.DriverMemory,
		Datapaths: []config.DatapathConfig{{DPID: 1}, {DPID: 2}},
	}, nil)

	controllerBus, err := transport.Connect(srv.ClientURL(), "controller", logger)
	require.NoError(t, err)
	defer controllerBus.Close()

	ctrl := controller.New(controller.Options{
		Bus:              controllerBus,
		Mapping:          table,
		Invalidator:      fabric.NewInvalidator(datapaths, logger),
		Switch:           fabric.NewLearningSwitch(logger),
		StationThreshold: 2,
		SignalThreshold:  -90,
		Cooldown:         time.Minute,
		Log:              db,
		Logger:           logger,
	})

	// ap1 carries three stations and ap2 none; sta1 hears ap2 well.
	source := staticSource{
		"ap1": {SSID: "ssid-ap1", Stations: []iw.StationCounters{
			{MAC: "00:00:00:00:00:02"},
			{MAC: "00:00:00:00:00:03"},
			{MAC: "00:00:00:00:00:04"},
		}},
		"ap2": {SSID: "ssid-ap2"},
	}
	neighbors := scanner.NewNeighborTable()
	neighbors.Set("sta1", map[string]float64{"ssid-ap2": -50})

	coll := collector.New(collector.Options{
		Agent: "agent-1",
		APs: []collector.AP{
			{Name: "ap1", DPID: 1, Interface: "ap1-wlan1"},
			{Name: "ap2", DPID: 2, Interface: "ap2-wlan1"},
		},
		Source:    source,
		Estimator: rate.NewEstimator(),
		Neighbors: neighbors,
		Names:     table,
		Interval:  20 * time.Millisecond,
		Logger:    logger,
	})

	runner := cmdrun.NewFakeRunner()
	runner.Set("./m sta1 iw dev sta1-wlan0 disconnect", "")
	runner.Set("./m sta1 iw dev sta1-wlan0 connect ssid-ap2", "")
	iwClient := iw.NewClient(runner, []string{"./m", config.StationPlaceholder})

	agentCfg := config.AgentConfig{StationInterface: config.StationPlaceholder + "-wlan0"}
	agentBus, err := transport.Connect(srv.ClientURL(), "agent", logger)
	require.NoError(t, err)
	defer agentBus.Close()

	a := agent.New(agent.Options{
		Name:            "agent-1",
		Bus:             agentBus,
		Collector:       coll,
		Scanner:         idle{},
		Executor:        reassoc.NewExecutor(iwClient, agentCfg.StationInterfaceFor, logger),
		Stations:        table,
		PublishInterval: 50 * time.Millisecond,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return a.Run(ctx) })

	connect := "./m sta1 iw dev sta1-wlan0 connect ssid-ap2"
	assert.Eventually(t, func() bool {
		for _, call := range runner.Calls() {
			if call == connect {
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond, "sta1 was never moved to ssid-ap2")

	assert.Eventually(t, func() bool {
		handovers, err := db.GetHandoversByStation("sta1", 10)
		return err == nil && len(handovers) > 0 && handovers[0].Status == database.StatusPublished
	}, 5*time.Second, 20*time.Millisecond)

	st := ctrl.Status()
	assert.Equal(t, []string{"ap1"}, st.Overloaded)
	require.NotNil(t, st.LastDecision)
	assert.Equal(t, "sta1", st.LastDecision.StationName)

	cancel()
	require.NoError(t, g.Wait())

	// The cooldown holds sta1, so it was moved exactly once.
	moves := 0
	for _, call := range runner.Calls() {
		if call == connect {
			moves++
		}
	}
	assert.Equal(t, 1, moves)
}
