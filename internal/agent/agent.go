// Package agent runs the per-host side of the balancing loop: it samples
// the local APs, scans neighbor signals, publishes snapshots and carries
// out handovers addressed to its stations.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fbettag/apsteer/internal/report"
	"github.com/fbettag/apsteer/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultPublishInterval = 20 * time.Second

// Task is a long-running loop that returns when ctx is done.
type Task interface {
	Run(ctx context.Context) error
}

// SnapshotSource is the collector's view used by the publisher.
type SnapshotSource interface {
	Task
	Latest() (report.Snapshot, bool)
}

// Reassociator moves a station to an SSID.
type Reassociator interface {
	Reassociate(ctx context.Context, station, ssid string) error
}

// StationDirectory tells whether a station is served by this agent.
type StationDirectory interface {
	Has(name string) bool
}

// Recorder counts published snapshots.
type Recorder interface {
	SnapshotPublished()
}

type Options struct {
	Name            string
	Bus             transport.Bus
	Collector       SnapshotSource
	Scanner         Task
	Executor        Reassociator
	Stations        StationDirectory
	PublishInterval time.Duration
	Recorder        Recorder
	Logger          *logrus.Logger
}

type Agent struct {
	opts          Options
	lastPublished string
}

func New(opts Options) *Agent {
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = DefaultPublishInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Agent{opts: opts}
}

// Run starts collection, scanning, publishing and the handover listener.
// It returns when ctx is done, or with an error once the transport fails.
func (a *Agent) Run(ctx context.Context) error {
	a.opts.Logger.Infof("Agent %s starting", a.opts.Name)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.opts.Collector.Run(ctx) })
	if a.opts.Scanner != nil {
		g.Go(func() error { return a.opts.Scanner.Run(ctx) })
	}
	g.Go(func() error { return a.publishLoop(ctx) })
	g.Go(func() error {
		err := transport.SubscribeDecisions(ctx, a.opts.Bus, a.opts.Logger, func(d report.Decision) {
			a.HandleDecision(ctx, d)
		})
		if err != nil {
			return fmt.Errorf("migration subscription: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.opts.Logger.Infof("Agent %s stopped", a.opts.Name)
	return err
}

func (a *Agent) publishLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Publish(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Publish sends the latest snapshot. Nothing is sent before the first
// collection completes, and a snapshot already sent is not sent again.
// Only a closed transport is returned as an error.
func (a *Agent) Publish(ctx context.Context) error {
	snapshot, ok := a.opts.Collector.Latest()
	if !ok {
		a.opts.Logger.Debug("No snapshot collected yet, skipping publish")
		return nil
	}
	if snapshot.ID == a.lastPublished {
		a.opts.Logger.WithField("snapshot", snapshot.ID).Debug("No new snapshot since last publish")
		return nil
	}

	if err := transport.PublishSnapshot(ctx, a.opts.Bus, snapshot); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("failed to publish snapshot: %w", err)
		}
		a.opts.Logger.Errorf("Failed to publish snapshot: %v", err)
		return nil
	}

	if a.opts.Recorder != nil {
		a.opts.Recorder.SnapshotPublished()
	}
	a.opts.Logger.WithField("snapshot", snapshot.ID).Debugf("Published snapshot of %d APs", len(snapshot.APs))
	a.lastPublished = snapshot.ID
	return nil
}

// HandleDecision executes a handover if the station belongs to this agent.
// Handovers for other agents' stations are ignored.
func (a *Agent) HandleDecision(ctx context.Context, d report.Decision) {
	log := a.opts.Logger.WithFields(logrus.Fields{"station": d.StationName, "ssid": d.TargetSSID})

	if a.opts.Stations != nil && !a.opts.Stations.Has(d.StationName) {
		log.Debug("Handover for a station this agent does not serve, ignoring")
		return
	}

	if err := a.opts.Executor.Reassociate(ctx, d.StationName, d.TargetSSID); err != nil {
		log.Errorf("Handover failed: %v", err)
	}
}
