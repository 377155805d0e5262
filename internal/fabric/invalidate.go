package fabric

import (
	"context"
	"errors"
	"fmt"

	"github.com/fbettag/apsteer/internal/mapping"
	"github.com/sirupsen/logrus"
)

// DeleteRecorder observes flow deletions.
type DeleteRecorder interface {
	FlowDeletes(dpid uint64, n int)
}

// Invalidator removes forwarding state that refers to a station so that
// traffic is relearned after the station moves.
type Invalidator struct {
	datapaths []Datapath
	logger    *logrus.Logger
	recorder  DeleteRecorder
}

func NewInvalidator(datapaths []Datapath, logger *logrus.Logger) *Invalidator {
	return &Invalidator{datapaths: datapaths, logger: logger}
}

func (i *Invalidator) WithRecorder(r DeleteRecorder) *Invalidator {
	i.recorder = r
	return i
}

// Datapaths returns the datapaths the invalidator operates on.
func (i *Invalidator) Datapaths() []Datapath {
	return i.datapaths
}

// StationMatches returns the delete matches for a station: its IPv4
// address as destination and source, then its MAC as destination and
// source.
func StationMatches(e mapping.Entry) []Match {
	var matches []Match
	if ip := e.IP.To4(); ip != nil {
		matches = append(matches,
			Match{EthType: EthTypeIPv4, IPv4Dst: ip},
			Match{EthType: EthTypeIPv4, IPv4Src: ip},
		)
	}
	if len(e.MAC) > 0 {
		matches = append(matches,
			Match{EthDst: e.MAC},
			Match{EthSrc: e.MAC},
		)
	}
	return matches
}

// Invalidate deletes every flow matching the station on every datapath.
// A failing datapath does not stop the others. It returns the number of
// delete operations that succeeded.
func (i *Invalidator) Invalidate(ctx context.Context, e mapping.Entry) (int, error) {
	matches := StationMatches(e)
	var errs []error
	deleted := 0

	for _, dp := range i.datapaths {
		n := 0
		for _, m := range matches {
			if err := dp.DeleteFlows(ctx, m); err != nil {
				errs = append(errs, fmt.Errorf("datapath %016x: %w", dp.ID(), err))
				continue
			}
			n++
		}
		deleted += n
		if i.recorder != nil {
			i.recorder.FlowDeletes(dp.ID(), n)
		}
		i.logger.WithFields(logrus.Fields{
			"station": e.Name,
			"dpid":    fmt.Sprintf("%016x", dp.ID()),
		}).Debugf("Issued %d flow deletions", n)
	}

	return deleted, errors.Join(errs...)
}
