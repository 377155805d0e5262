package rate

import (
	"sync"
	"time"
)

type counters struct {
	rxBytes uint64
	txBytes uint64
}

// Estimator turns cumulative per-station byte counters into bandwidth
// estimates. It is safe for concurrent use.
type Estimator struct {
	mu   sync.Mutex
	last map[string]counters
}

func NewEstimator() *Estimator {
	return &Estimator{last: make(map[string]counters)}
}

// Estimate returns the rx and tx rates in Mbps for the interval ending with
// the given counters, and records them as the station's previous sample.
// A counter lower than its previous sample is a reset; the previous value
// is taken as zero for that interval.
func (e *Estimator) Estimate(station string, rxBytes, txBytes uint64, interval time.Duration) (rxMbps, txMbps float64) {
	e.mu.Lock()
	prev := e.last[station]
	e.last[station] = counters{rxBytes: rxBytes, txBytes: txBytes}
	e.mu.Unlock()

	seconds := interval.Seconds()
	if seconds <= 0 {
		return 0, 0
	}

	rxMbps = ToMbps(BytesPerSecond(rxBytes, prev.rxBytes, seconds))
	txMbps = ToMbps(BytesPerSecond(txBytes, prev.txBytes, seconds))
	return rxMbps, txMbps
}

// Forget drops the stored sample for a station.
func (e *Estimator) Forget(station string) {
	e.mu.Lock()
	delete(e.last, station)
	e.mu.Unlock()
}

// Tracked returns the number of stations with a stored sample.
func (e *Estimator) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.last)
}

// BytesPerSecond differences two counter samples over an interval in seconds.
func BytesPerSecond(current, previous uint64, seconds float64) float64 {
	if current < previous {
		previous = 0
	}
	return float64(current-previous) / seconds
}

// ToMbps converts bytes per second to megabits per second.
func ToMbps(bytesPerSecond float64) float64 {
	return bytesPerSecond * 8 / 1_000_000
}
