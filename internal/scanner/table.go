package scanner

import (
	"sync"
)

// NeighborTable holds the latest neighbor-signal map per station. The
// scanner writes it, the collector reads it.
type NeighborTable struct {
	mu      sync.RWMutex
	signals map[string]map[string]float64
}

func NewNeighborTable() *NeighborTable {
	return &NeighborTable{
		signals: make(map[string]map[string]float64),
	}
}

// Set replaces the neighbor map of a station.
func (t *NeighborTable) Set(station string, signals map[string]float64) {
	copied := make(map[string]float64, len(signals))
	for ssid, dbm := range signals {
		copied[ssid] = dbm
	}

	t.mu.Lock()
	t.signals[station] = copied
	t.mu.Unlock()
}

// Get returns a copy of the station's neighbor map. Stations never scanned
// get an empty map.
func (t *NeighborTable) Get(station string) map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	signals := t.signals[station]
	copied := make(map[string]float64, len(signals))
	for ssid, dbm := range signals {
		copied[ssid] = dbm
	}
	return copied
}
