package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fbettag/apsteer/internal/mapping"
	"github.com/fbettag/apsteer/internal/report"
	"github.com/fbettag/apsteer/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeCollector struct {
	mu       sync.Mutex
	snapshot *report.Snapshot
	// fresh gives every Latest call a new snapshot ID, as if a collection
	// cycle finished between publishes.
	fresh bool
	n     int
}

func (c *fakeCollector) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *fakeCollector) Latest() (report.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return report.Snapshot{}, false
	}
	s := *c.snapshot
	if c.fresh {
		c.n++
		s.ID = fmt.Sprintf("snap-%d", c.n)
	}
	return s, true
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *fakeExecutor) Reassociate(_ context.Context, station, ssid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, station+"->"+ssid)
	return e.err
}

func (e *fakeExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) SnapshotPublished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func stations(t *testing.T) *mapping.Table {
	t.Helper()
	table, err := mapping.Parse(strings.NewReader("00:00:00:00:00:01 sta1 10.0.0.1/8\n"))
	require.NoError(t, err)
	return table
}

func snapshot() *report.Snapshot {
	return &report.Snapshot{
		ID:      "snap-1",
		Agent:   "agent1",
		TakenAt: time.Now().UTC(),
		APs: []report.APReport{{
			Name: "ap1",
			SSID: "ssid-ap1",
			StationsAssociated: report.StationSet{
				{Name: "sta1", NeighborSignal: map[string]float64{"ssid-ap1": -40}},
			},
		}},
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing before first collection", func(t *testing.T) {
		bus := transport.NewMemoryBus(4)
		rec := &counter{}
		a := New(Options{Bus: bus, Collector: &fakeCollector{}, Recorder: rec, Logger: quietLogger()})
		require.NoError(t, a.Publish(ctx))
		assert.Zero(t, rec.count())
	})

	t.Run("unchanged snapshot is sent once", func(t *testing.T) {
		bus := transport.NewMemoryBus(4)
		rec := &counter{}
		coll := &fakeCollector{snapshot: snapshot()}
		a := New(Options{Bus: bus, Collector: coll, Recorder: rec, Logger: quietLogger()})

		require.NoError(t, a.Publish(ctx))
		require.NoError(t, a.Publish(ctx))
		assert.Equal(t, 1, rec.count())

		coll.mu.Lock()
		coll.fresh = true
		coll.mu.Unlock()
		require.NoError(t, a.Publish(ctx))
		assert.Equal(t, 2, rec.count())
	})

	t.Run("closed transport is an error", func(t *testing.T) {
		bus := transport.NewMemoryBus(4)
		require.NoError(t, bus.Close())
		a := New(Options{Bus: bus, Collector: &fakeCollector{snapshot: snapshot()}, Logger: quietLogger()})
		assert.ErrorIs(t, a.Publish(ctx), transport.ErrClosed)
	})
}

func TestHandleDecision(t *testing.T) {
	ctx := context.Background()

	t.Run("executes for own station", func(t *testing.T) {
		exec := &fakeExecutor{}
		a := New(Options{Executor: exec, Stations: stations(t), Logger: quietLogger()})
		a.HandleDecision(ctx, report.Decision{StationName: "sta1", TargetSSID: "ssid-ap2"})
		assert.Equal(t, []string{"sta1->ssid-ap2"}, exec.Calls())
	})

	t.Run("ignores other agents' stations", func(t *testing.T) {
		exec := &fakeExecutor{}
		a := New(Options{Executor: exec, Stations: stations(t), Logger: quietLogger()})
		a.HandleDecision(ctx, report.Decision{StationName: "sta7", TargetSSID: "ssid-ap2"})
		assert.Empty(t, exec.Calls())
	})

	t.Run("executor failure is not fatal", func(t *testing.T) {
		exec := &fakeExecutor{err: errors.New("connect failed")}
		a := New(Options{Executor: exec, Stations: stations(t), Logger: quietLogger()})
		assert.NotPanics(t, func() {
			a.HandleDecision(ctx, report.Decision{StationName: "sta1", TargetSSID: "ssid-ap2"})
		})
	})
}

func TestRun(t *testing.T) {
	bus := transport.NewMemoryBus(16)
	logger := quietLogger()
	exec := &fakeExecutor{}
	rec := &counter{}

	a := New(Options{
		Name:            "agent1",
		Bus:             bus,
		Collector:       &fakeCollector{snapshot: snapshot(), fresh: true},
		Executor:        exec,
		Stations:        stations(t),
		PublishInterval: 10 * time.Millisecond,
		Recorder:        rec,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan report.Snapshot, 16)
	go func() {
		_ = transport.SubscribeSnapshots(ctx, bus, logger, func(s report.Snapshot) {
			select {
			case received <- s:
			default:
			}
		})
	}()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case s := <-received:
		assert.Equal(t, "agent1", s.Agent)
		require.Len(t, s.APs, 1)
		assert.Equal(t, []string{"sta1"}, s.APs[0].StationsAssociated.Names())
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}

	// The migrations subscription may not be up yet, so resend until the
	// executor has run.
	require.Eventually(t, func() bool {
		if err := transport.PublishDecision(ctx, bus, report.Decision{StationName: "sta9", TargetSSID: "ssid-ap2"}); err != nil {
			return false
		}
		if err := transport.PublishDecision(ctx, bus, report.Decision{StationName: "sta1", TargetSSID: "ssid-ap2"}); err != nil {
			return false
		}
		return len(exec.Calls()) > 0
	}, time.Second, 20*time.Millisecond)
	for _, call := range exec.Calls() {
		assert.Equal(t, "sta1->ssid-ap2", call)
	}

	require.NoError(t, bus.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after transport closed")
	}
}
