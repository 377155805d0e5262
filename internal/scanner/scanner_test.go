package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	results map[string]map[string]float64
	fail    map[string]bool
	scans   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		results: make(map[string]map[string]float64),
		fail:    make(map[string]bool),
		scans:   make(map[string]int),
	}
}

func (f *fakeSource) Scan(_ context.Context, station, iface string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans[station]++
	if iface != station+"-wlan0" {
		return nil, errors.New("unexpected interface " + iface)
	}
	if f.fail[station] {
		return nil, errors.New("scan aborted")
	}
	return f.results[station], nil
}

func (f *fakeSource) count(station string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans[station]
}

type countingRecorder struct {
	mu       sync.Mutex
	failures int
}

func (c *countingRecorder) ScanFailed(string) {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestNeighborTableReturnsCopies(t *testing.T) {
	table := NewNeighborTable()

	assert.Empty(t, table.Get("sta1"), "unknown station has an empty map")

	in := map[string]float64{"ssid-ap2": -60}
	table.Set("sta1", in)
	in["ssid-ap2"] = 0

	out := table.Get("sta1")
	assert.Equal(t, -60.0, out["ssid-ap2"])
	out["ssid-ap3"] = -10
	assert.Len(t, table.Get("sta1"), 1)
}

func TestScanOnceKeepsPreviousOnFailure(t *testing.T) {
	source := newFakeSource()
	source.results["sta1"] = map[string]float64{"ssid-ap2": -60}
	table := NewNeighborTable()
	recorder := &countingRecorder{}

	s := New(source, table, []string{"sta1"}, time.Second, nil, quietLogger()).WithRecorder(recorder)

	s.ScanOnce(context.Background(), "sta1")
	assert.Equal(t, -60.0, table.Get("sta1")["ssid-ap2"])

	source.fail["sta1"] = true
	s.ScanOnce(context.Background(), "sta1")
	assert.Equal(t, -60.0, table.Get("sta1")["ssid-ap2"])
	assert.Equal(t, 1, recorder.failures)
}

func TestRunScansRepeatedlyUntilCancelled(t *testing.T) {
	source := newFakeSource()
	source.results["sta1"] = map[string]float64{"ssid-ap1": -40}
	source.results["sta2"] = map[string]float64{"ssid-ap2": -50}
	table := NewNeighborTable()

	s := New(source, table, []string{"sta1", "sta2"}, 10*time.Millisecond, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return source.count("sta1") >= 3 && source.count("sta2") >= 3
	}, 2*time.Second, 5*time.Millisecond, "scanner should keep scanning after the first pass")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop after cancellation")
	}

	assert.Equal(t, -50.0, table.Get("sta2")["ssid-ap2"])
}
