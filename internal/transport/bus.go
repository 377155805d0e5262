// Package transport carries snapshots from agents to the controller and
// handover decisions back to the agents over a publish/subscribe bus.
// Delivery is at-most-once and unordered.
package transport

import (
	"context"
	"errors"
)

const (
	// SubjectStatistics carries snapshots from agents to the controller.
	SubjectStatistics = "statistics"
	// SubjectMigrations carries handover decisions to every agent.
	SubjectMigrations = "sdn"
)

// ErrClosed is returned once the bus connection is gone for good.
var ErrClosed = errors.New("transport closed")

// Handler processes one received payload.
type Handler func(data []byte)

// Bus is a broadcast publish/subscribe channel.
type Bus interface {
	// Publish sends data to every current subscriber of subject.
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe delivers messages on subject to handler, one at a time,
	// until ctx is done (returns nil) or the transport fails (returns error).
	Subscribe(ctx context.Context, subject string, handler Handler) error
	Close() error
}
