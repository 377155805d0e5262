package collector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fbettag/apsteer/internal/rate"
	"github.com/fbettag/apsteer/internal/report"
)

// NeighborLookup returns the latest neighbor-signal map for a station name.
type NeighborLookup interface {
	Get(station string) map[string]float64
}

// NameResolver maps a station hardware address to its name.
type NameResolver interface {
	NameFor(mac string) string
}

// Recorder receives per-cycle collection results.
type Recorder interface {
	CollectionFailed(ap string)
	APStations(ap string, count int)
}

// Collector samples every AP once per interval and keeps the latest
// snapshot. An AP whose query fails keeps its previous report for that cycle.
type Collector struct {
	agent     string
	aps       []AP
	source    StationSource
	estimator *rate.Estimator
	neighbors NeighborLookup
	names     NameResolver
	interval  time.Duration
	logger    *logrus.Logger
	recorder  Recorder

	mu       sync.RWMutex
	latest   *report.Snapshot
	lastGood map[string]report.APReport
	present  map[string]bool
}

// Options wires a Collector.
type Options struct {
	Agent     string
	APs       []AP
	Source    StationSource
	Estimator *rate.Estimator
	Neighbors NeighborLookup
	Names     NameResolver
	Interval  time.Duration
	Logger    *logrus.Logger
	Recorder  Recorder
}

func New(opts Options) *Collector {
	estimator := opts.Estimator
	if estimator == nil {
		estimator = rate.NewEstimator()
	}
	return &Collector{
		agent:     opts.Agent,
		aps:       opts.APs,
		source:    opts.Source,
		estimator: estimator,
		neighbors: opts.Neighbors,
		names:     opts.Names,
		interval:  opts.Interval,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		lastGood:  make(map[string]report.APReport),
		present:   make(map[string]bool),
	}
}

// Run collects immediately and then once per interval until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Infof("Starting metrics collection for %d APs every %v", len(c.aps), c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)

	for {
		select {
		case <-ticker.C:
			c.Collect(ctx)
		case <-ctx.Done():
			c.logger.Info("Stopping metrics collection")
			return nil
		}
	}
}

// Collect runs one sampling cycle over all APs and stores the result as the
// latest snapshot.
func (c *Collector) Collect(ctx context.Context) report.Snapshot {
	snapshot := report.Snapshot{
		ID:      uuid.New().String(),
		Agent:   c.agent,
		TakenAt: time.Now().UTC(),
		APs:     make([]report.APReport, 0, len(c.aps)),
	}

	present := make(map[string]bool)
	for _, ap := range c.aps {
		apReport, ok := c.collectAP(ctx, ap)
		if !ok {
			continue
		}
		snapshot.APs = append(snapshot.APs, apReport)
		for _, st := range apReport.StationsAssociated {
			present[st.MAC] = true
		}
	}

	c.mu.Lock()
	c.latest = &snapshot
	gone := make([]string, 0)
	for mac := range c.present {
		if !present[mac] {
			gone = append(gone, mac)
		}
	}
	c.present = present
	c.mu.Unlock()

	// A station that left every AP starts from a fresh counter sample
	// when it returns.
	for _, mac := range gone {
		c.estimator.Forget(mac)
	}
	if len(gone) > 0 {
		c.logger.Debugf("Forgot %d departed stations, tracking %d", len(gone), c.estimator.Tracked())
	}

	return snapshot
}

func (c *Collector) collectAP(ctx context.Context, ap AP) (report.APReport, bool) {
	log := c.logger.WithField("ap", ap.Name)

	state, err := c.source.APState(ctx, ap)
	if err != nil {
		if c.recorder != nil {
			c.recorder.CollectionFailed(ap.Name)
		}
		c.mu.RLock()
		prev, ok := c.lastGood[ap.Name]
		c.mu.RUnlock()
		if ok {
			log.Warnf("Collection failed, reusing previous report: %v", err)
		} else {
			log.Warnf("Collection failed, no previous report to reuse: %v", err)
		}
		return prev, ok
	}

	apReport := report.APReport{
		Name:               ap.Name,
		DPID:               ap.DPID,
		InterfaceName:      ap.Interface,
		SSID:               state.SSID,
		StationsAssociated: make(report.StationSet, 0, len(state.Stations)),
	}

	seen := make(map[string]bool, len(state.Stations))
	for _, st := range state.Stations {
		name := c.names.NameFor(st.MAC)
		if seen[name] {
			continue
		}
		seen[name] = true

		rx, tx := c.estimator.Estimate(st.MAC, st.RxBytes, st.TxBytes, c.interval)
		apReport.StationsAssociated = append(apReport.StationsAssociated, report.StationStats{
			Name:           name,
			MAC:            st.MAC,
			NeighborSignal: c.neighbors.Get(name),
			RxRateMbps:     rx,
			TxRateMbps:     tx,
		})
	}

	if c.recorder != nil {
		c.recorder.APStations(ap.Name, apReport.StationCount())
	}
	log.Debugf("Collected %d stations on %s", apReport.StationCount(), apReport.SSID)

	c.mu.Lock()
	c.lastGood[ap.Name] = apReport
	c.mu.Unlock()

	return apReport, true
}

// Latest returns the most recent snapshot, if any cycle has completed.
func (c *Collector) Latest() (report.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return report.Snapshot{}, false
	}
	return *c.latest, true
}
