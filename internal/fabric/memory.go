package fabric

import (
	"context"
	"sync"
)

// MemoryDatapath keeps its flow table in process.
type MemoryDatapath struct {
	mu    sync.Mutex
	id    uint64
	flows []FlowMod
}

func NewMemoryDatapath(id uint64) *MemoryDatapath {
	return &MemoryDatapath{id: id}
}

func (d *MemoryDatapath) ID() uint64 {
	return d.id
}

// AddFlow replaces an existing flow with the same priority and match.
func (d *MemoryDatapath) AddFlow(_ context.Context, flow FlowMod) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, f := range d.flows {
		if f.Priority == flow.Priority && f.Match.String() == flow.Match.String() {
			d.flows[i] = flow
			return nil
		}
	}
	d.flows = append(d.flows, flow)
	return nil
}

func (d *MemoryDatapath) DeleteFlows(_ context.Context, match Match) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.flows[:0]
	for _, f := range d.flows {
		if !match.Covers(f.Match) {
			kept = append(kept, f)
		}
	}
	d.flows = kept
	return nil
}

// Flows returns a copy of the flow table.
func (d *MemoryDatapath) Flows() []FlowMod {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FlowMod(nil), d.flows...)
}
