// Package controller runs the central balancing loop: it consumes agent
// snapshots, picks at most one station to move per snapshot, clears the
// station's forwarding state and publishes the handover.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fbettag/apsteer/internal/balancer"
	"github.com/fbettag/apsteer/internal/database"
	"github.com/fbettag/apsteer/internal/fabric"
	"github.com/fbettag/apsteer/internal/mapping"
	"github.com/fbettag/apsteer/internal/report"
	"github.com/fbettag/apsteer/internal/transport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultStationThreshold = 2
	DefaultSignalThreshold  = -90.0
	DefaultCooldown         = 60 * time.Second
)

// Reasons a snapshot is dropped.
const (
	DropStale      = "stale"
	DropSuperseded = "superseded"
)

// Event names sent to the EventSink.
const (
	EventSnapshot = "snapshot"
	EventHandover = "handover"
)

// HandoverLog persists handover attempts and remembers when each station
// was last moved.
type HandoverLog interface {
	RecordHandover(h *database.Handover) error
	GetLastHandover(station string) (time.Time, error)
}

// EventSink receives live events for operators.
type EventSink interface {
	Broadcast(event string, payload interface{})
}

// Recorder receives controller metrics.
type Recorder interface {
	SnapshotReceived()
	SnapshotDropped(reason string)
	Decision(outcome string)
	APStations(ap string, count int)
	APLoad(ap, load string)
}

type Options struct {
	Bus              transport.Bus
	Mapping          *mapping.Table
	Invalidator      *fabric.Invalidator
	Switch           *fabric.LearningSwitch
	StationThreshold int
	SignalThreshold  float64
	Cooldown         time.Duration
	Log              HandoverLog
	Events           EventSink
	Recorder         Recorder
	Logger           *logrus.Logger
	Now              func() time.Time
}

// Status is the controller state shown to operators.
type Status struct {
	Paused           bool             `json:"paused"`
	StationThreshold int              `json:"station_threshold"`
	SignalThreshold  float64          `json:"signal_threshold"`
	Snapshot         *report.Snapshot `json:"snapshot,omitempty"`
	Overloaded       []string         `json:"overloaded"`
	Underloaded      []string         `json:"underloaded"`
	LastDecision     *report.Decision `json:"last_decision,omitempty"`
}

// seen is the last snapshot processed from one agent.
type seen struct {
	id      string
	takenAt time.Time
}

type Controller struct {
	opts  Options
	inbox *mailbox

	mu           sync.RWMutex
	paused       bool
	lastSeen     map[string]seen
	commanded    map[string]time.Time
	snapshot     *report.Snapshot
	class        balancer.Classification
	lastDecision *report.Decision
}

func New(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Controller{
		opts:      opts,
		inbox:     newMailbox(),
		lastSeen:  make(map[string]seen),
		commanded: make(map[string]time.Time),
	}
}

// Run registers the datapaths with the learning switch, restores station
// cooldowns from the handover log, then consumes snapshots until ctx is
// done or the transport fails. Only a transport failure is returned.
func (c *Controller) Run(ctx context.Context) error {
	c.registerDatapaths(ctx)
	c.restoreCooldowns()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := transport.SubscribeSnapshots(ctx, c.opts.Bus, c.opts.Logger, c.enqueue)
		if err != nil {
			return fmt.Errorf("statistics subscription: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-c.inbox.ready:
			}
			snapshot, ok := c.inbox.take()
			if !ok {
				continue
			}
			if _, _, err := c.Handle(ctx, snapshot); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}

func (c *Controller) registerDatapaths(ctx context.Context) {
	if c.opts.Switch == nil || c.opts.Invalidator == nil {
		return
	}
	for _, dp := range c.opts.Invalidator.Datapaths() {
		if err := c.opts.Switch.Register(ctx, dp); err != nil {
			c.opts.Logger.WithField("dpid", fmt.Sprintf("%016x", dp.ID())).Errorf("Failed to register datapath: %v", err)
		}
	}
}

// restoreCooldowns seeds the cooldown of every mapped station from its last
// recorded handover so a restart does not move it again too early.
func (c *Controller) restoreCooldowns() {
	if c.opts.Log == nil || c.opts.Mapping == nil {
		return
	}
	restored := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.opts.Mapping.Entries() {
		last, err := c.opts.Log.GetLastHandover(e.Name)
		if err != nil {
			c.opts.Logger.WithField("station", e.Name).Warnf("Failed to read last handover: %v", err)
			continue
		}
		if last.IsZero() {
			continue
		}
		if prev, ok := c.commanded[e.Name]; !ok || last.After(prev) {
			c.commanded[e.Name] = last
			restored++
		}
	}
	if restored > 0 {
		c.opts.Logger.Infof("Restored cooldown for %d stations", restored)
	}
}

func (c *Controller) enqueue(s report.Snapshot) {
	c.record(func(r Recorder) { r.SnapshotReceived() })
	if c.inbox.offer(s) {
		c.record(func(r Recorder) { r.SnapshotDropped(DropSuperseded) })
		c.opts.Logger.Debug("Unprocessed snapshot superseded by a newer one")
	}
}

// Handle runs one balancing step on a snapshot. It returns the decision
// that was published, if any. The error is non-nil only when the
// transport is gone.
func (c *Controller) Handle(ctx context.Context, snapshot report.Snapshot) (report.Decision, bool, error) {
	log := c.opts.Logger.WithField("agent", snapshot.Agent)

	if c.isStale(snapshot) {
		c.record(func(r Recorder) { r.SnapshotDropped(DropStale) })
		log.WithField("taken_at", snapshot.TakenAt).Debug("Dropping stale snapshot")
		return report.Decision{}, false, nil
	}

	class := balancer.Classify(snapshot, c.opts.StationThreshold)
	c.observe(snapshot, class)

	if c.Paused() {
		return report.Decision{}, false, nil
	}

	now := c.opts.Now()
	decision, ok := balancer.PlanExcluding(class.Overloaded, class.Underloaded, c.opts.SignalThreshold, c.coolingDown(now))
	if !ok {
		return report.Decision{}, false, nil
	}
	decision.ID = uuid.NewString()
	decision.IssuedAt = now

	log = log.WithFields(logrus.Fields{
		"station": decision.StationName,
		"ap":      decision.FromAP,
		"ssid":    decision.TargetSSID,
	})
	log.Info("Handover decided")

	entry := &database.Handover{
		DecisionID: decision.ID,
		Station:    decision.StationName,
		FromAP:     decision.FromAP,
		FromSSID:   decision.FromSSID,
		TargetSSID: decision.TargetSSID,
		Status:     database.StatusPublished,
	}

	c.invalidate(ctx, snapshot, decision, entry, log)

	if err := transport.PublishDecision(ctx, c.opts.Bus, decision); err != nil {
		entry.Status = database.StatusPublishFailed
		entry.Message = err.Error()
		c.finish(decision, entry, false, log)
		if errors.Is(err, transport.ErrClosed) {
			return report.Decision{}, false, fmt.Errorf("failed to publish handover: %w", err)
		}
		log.Errorf("Failed to publish handover: %v", err)
		return report.Decision{}, false, nil
	}

	c.finish(decision, entry, true, log)
	return decision, true, nil
}

// invalidate clears forwarding state for the station. Failures are logged
// and recorded; the handover still goes out.
func (c *Controller) invalidate(ctx context.Context, snapshot report.Snapshot, decision report.Decision, entry *database.Handover, log *logrus.Entry) {
	station, ok := c.stationEntry(snapshot, decision)
	if !ok {
		log.Warn("Station address unknown, skipping flow invalidation")
		return
	}
	entry.StationMAC = station.MAC.String()

	if c.opts.Invalidator != nil {
		n, err := c.opts.Invalidator.Invalidate(ctx, station)
		entry.FlowsRemoved = n
		if err != nil {
			entry.Status = database.StatusInvalidationFailed
			entry.Message = err.Error()
			log.Errorf("Flow invalidation incomplete: %v", err)
		}
	}
	if c.opts.Switch != nil {
		c.opts.Switch.Forget(station.MAC)
	}
}

// stationEntry resolves the station's addresses from the mapping table.
// A station missing from the table falls back to the MAC its AP reported,
// which still clears its L2 flows.
func (c *Controller) stationEntry(snapshot report.Snapshot, decision report.Decision) (mapping.Entry, bool) {
	if c.opts.Mapping != nil {
		if e, err := c.opts.Mapping.ByName(decision.StationName); err == nil {
			return *e, true
		}
	}
	for _, ap := range snapshot.APs {
		if ap.Name != decision.FromAP {
			continue
		}
		st, ok := ap.StationsAssociated.Get(decision.StationName)
		if !ok {
			break
		}
		mac, err := net.ParseMAC(st.MAC)
		if err != nil {
			break
		}
		return mapping.Entry{Name: st.Name, MAC: mac}, true
	}
	return mapping.Entry{}, false
}

func (c *Controller) finish(decision report.Decision, entry *database.Handover, published bool, log *logrus.Entry) {
	if published {
		c.mu.Lock()
		c.commanded[decision.StationName] = decision.IssuedAt
		c.lastDecision = &decision
		c.mu.Unlock()
		if entry.Message == "" {
			entry.Message = fmt.Sprintf("%s moved from %s to %s", decision.StationName, decision.FromSSID, decision.TargetSSID)
		}
	}

	status := entry.Status
	c.record(func(r Recorder) { r.Decision(status) })

	if c.opts.Log != nil {
		if err := c.opts.Log.RecordHandover(entry); err != nil {
			log.Errorf("Failed to record handover: %v", err)
		}
	}
	if c.opts.Events != nil && published {
		c.opts.Events.Broadcast(EventHandover, decision)
	}
}

// isStale reports whether an agent's snapshot was already processed or is
// not newer than the last one processed from that agent.
func (c *Controller) isStale(s report.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSeen[s.Agent]; ok {
		if s.ID != "" && s.ID == last.id {
			return true
		}
		if !s.TakenAt.IsZero() && !last.takenAt.IsZero() && !s.TakenAt.After(last.takenAt) {
			return true
		}
	}
	c.lastSeen[s.Agent] = seen{id: s.ID, takenAt: s.TakenAt}
	return false
}

func (c *Controller) observe(s report.Snapshot, class balancer.Classification) {
	c.mu.Lock()
	c.snapshot = &s
	c.class = class
	c.mu.Unlock()

	for _, ap := range s.APs {
		load := string(balancer.ClassifyAP(ap, c.opts.StationThreshold))
		c.record(func(r Recorder) {
			r.APStations(ap.Name, ap.StationCount())
			r.APLoad(ap.Name, load)
		})
	}
	if c.opts.Events != nil {
		c.opts.Events.Broadcast(EventSnapshot, s)
	}
}

func (c *Controller) coolingDown(now time.Time) balancer.Exclusion {
	c.mu.RLock()
	recent := make(map[string]bool, len(c.commanded))
	for station, at := range c.commanded {
		if now.Sub(at) < c.opts.Cooldown {
			recent[station] = true
		}
	}
	c.mu.RUnlock()

	return func(station string) bool {
		return recent[station]
	}
}

func (c *Controller) record(fn func(Recorder)) {
	if c.opts.Recorder != nil {
		fn(c.opts.Recorder)
	}
}

// Pause stops planning; snapshots are still observed.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.opts.Logger.Info("Balancing paused")
}

func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.opts.Logger.Info("Balancing resumed")
}

func (c *Controller) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Paused:           c.paused,
		StationThreshold: c.opts.StationThreshold,
		SignalThreshold:  c.opts.SignalThreshold,
		Overloaded:       balancer.Names(c.class.Overloaded),
		Underloaded:      balancer.Names(c.class.Underloaded),
	}
	if c.snapshot != nil {
		s := *c.snapshot
		st.Snapshot = &s
	}
	if c.lastDecision != nil {
		d := *c.lastDecision
		st.LastDecision = &d
	}
	return st
}
