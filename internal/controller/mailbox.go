package controller

import (
	"sync"

	"github.com/fbettag/apsteer/internal/report"
)

// mailbox holds at most one pending snapshot. A newer offer replaces an
// unprocessed older one.
type mailbox struct {
	mu      sync.Mutex
	pending *report.Snapshot
	ready   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

// offer stores s and reports whether an unprocessed snapshot was replaced.
func (m *mailbox) offer(s report.Snapshot) bool {
	m.mu.Lock()
	replaced := m.pending != nil
	m.pending = &s
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return replaced
}

func (m *mailbox) take() (report.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return report.Snapshot{}, false
	}
	s := *m.pending
	m.pending = nil
	return s, true
}
