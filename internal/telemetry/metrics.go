// Package telemetry exposes agent and controller metrics to Prometheus.
package telemetry

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var loads = []string{"overloaded", "underloaded", "nominal"}

// Metrics holds every metric of both binaries. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	CollectionErrors   *prometheus.CounterVec
	ScanErrors         *prometheus.CounterVec
	APStationCount     *prometheus.GaugeVec
	APClassification   *prometheus.GaugeVec
	SnapshotsPublished prometheus.Counter
	SnapshotsReceived  prometheus.Counter
	SnapshotsDropped   *prometheus.CounterVec
	Decisions          *prometheus.CounterVec
	FlowDeletions      *prometheus.CounterVec
	Migrations         *prometheus.CounterVec
}

// New registers the metrics against reg, or the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}
	var err error

	if m.CollectionErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apsteer_collection_errors_total",
		Help: "AP queries that failed or returned unparseable output.",
	}, []string{"ap"})); err != nil {
		return nil, err
	}
	if m.ScanErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apsteer_scan_errors_total",
		Help: "Neighbor scans that failed per station.",
	}, []string{"station"})); err != nil {
		return nil, err
	}
	if m.APStationCount, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apsteer_ap_stations",
		Help: "Stations associated with an AP in the latest report.",
	}, []string{"ap"})); err != nil {
		return nil, err
	}
	if m.APClassification, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apsteer_ap_classification",
		Help: "1 for the load class an AP was placed in by the latest snapshot.",
	}, []string{"ap", "load"})); err != nil {
		return nil, err
	}
	if m.SnapshotsPublished, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apsteer_snapshots_published_total",
		Help: "Snapshots published by this agent.",
	})); err != nil {
		return nil, err
	}
	if m.SnapshotsReceived, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apsteer_snapshots_received_total",
		Help: "Snapshots received by the controller.",
	})); err != nil {
		return nil, err
	}
	if m.SnapshotsDropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apsteer_snapshots_dropped_total",
		Help: "Snapshots discarded before planning.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if m.Decisions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apsteer_decisions_total",
		Help: "Handover decisions by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.FlowDeletions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apsteer_flow_deletions_total",
		Help: "Flow delete operations issued per datapath.",
	}, []string{"dpid"})); err != nil {
		return nil, err
	}
	if m.Migrations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apsteer_migrations_total",
		Help: "Reassociations executed by this agent.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}

	return m, nil
}

// Gatherer returns the gatherer to serve on /metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.gatherer
}

func (m *Metrics) CollectionFailed(ap string) {
	if m == nil {
		return
	}
	m.CollectionErrors.WithLabelValues(ap).Inc()
}

func (m *Metrics) APStations(ap string, count int) {
	if m == nil {
		return
	}
	m.APStationCount.WithLabelValues(ap).Set(float64(count))
}

func (m *Metrics) ScanFailed(station string) {
	if m == nil {
		return
	}
	m.ScanErrors.WithLabelValues(station).Inc()
}

func (m *Metrics) Migration(outcome string) {
	if m == nil {
		return
	}
	m.Migrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SnapshotPublished() {
	if m == nil {
		return
	}
	m.SnapshotsPublished.Inc()
}

func (m *Metrics) SnapshotReceived() {
	if m == nil {
		return
	}
	m.SnapshotsReceived.Inc()
}

func (m *Metrics) SnapshotDropped(reason string) {
	if m == nil {
		return
	}
	m.SnapshotsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FlowDeletes(dpid uint64, n int) {
	if m == nil {
		return
	}
	m.FlowDeletions.WithLabelValues(strconv.FormatUint(dpid, 16)).Add(float64(n))
}

// APLoad marks the class an AP was placed in.
func (m *Metrics) APLoad(ap, load string) {
	if m == nil {
		return
	}
	for _, l := range loads {
		v := 0.0
		if l == load {
			v = 1
		}
		m.APClassification.WithLabelValues(ap, l).Set(v)
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return c, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return c, err
	}
	return c, nil
}
