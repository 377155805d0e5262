// Package reassoc moves a station to another access point by dropping its
// association and connecting it to the target SSID.
package reassoc

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Driver issues the two station commands.
type Driver interface {
	Disconnect(ctx context.Context, station, iface string) (string, error)
	Connect(ctx context.Context, station, iface, ssid string) (string, error)
}

// Recorder observes executed migrations.
type Recorder interface {
	Migration(outcome string)
}

const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Executor performs reassociation commands on the stations this agent serves.
type Executor struct {
	driver   Driver
	ifaceFor func(station string) string
	logger   *logrus.Logger
	recorder Recorder
}

func NewExecutor(driver Driver, ifaceFor func(string) string, logger *logrus.Logger) *Executor {
	return &Executor{
		driver:   driver,
		ifaceFor: ifaceFor,
		logger:   logger,
	}
}

func (e *Executor) WithRecorder(r Recorder) *Executor {
	e.recorder = r
	return e
}

// Reassociate disconnects the station and connects it to ssid. A failed
// disconnect is logged and the connect is attempted anyway, since the
// station may already be unassociated.
func (e *Executor) Reassociate(ctx context.Context, station, ssid string) error {
	iface := e.ifaceFor(station)
	log := e.logger.WithFields(logrus.Fields{"station": station, "ssid": ssid, "iface": iface})

	log.Info("Reassociating station")

	out, err := e.driver.Disconnect(ctx, station, iface)
	if err != nil {
		log.Warnf("Disconnect failed: %v", err)
	} else if out = strings.TrimSpace(out); out != "" {
		log.Debugf("Disconnect output: %s", out)
	}

	out, err = e.driver.Connect(ctx, station, iface, ssid)
	if err != nil {
		e.record(OutcomeFailed)
		return fmt.Errorf("failed to connect %s to %s: %w", station, ssid, err)
	}
	if out = strings.TrimSpace(out); out != "" {
		log.Debugf("Connect output: %s", out)
	}

	e.record(OutcomeSuccess)
	log.Info("Station reassociated")
	return nil
}

func (e *Executor) record(outcome string) {
	if e.recorder != nil {
		e.recorder.Migration(outcome)
	}
}
