package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SignalSource scans the SSIDs visible from a station interface.
type SignalSource interface {
	Scan(ctx context.Context, station, iface string) (map[string]float64, error)
}

// ErrorRecorder is told about failed scans.
type ErrorRecorder interface {
	ScanFailed(station string)
}

// Scanner periodically scans every configured station and keeps the
// neighbor table current. A failed scan keeps the previous map.
type Scanner struct {
	source   SignalSource
	table    *NeighborTable
	interval time.Duration
	ifaceFor func(station string) string
	logger   *logrus.Logger
	recorder ErrorRecorder
	stations []string
}

func New(source SignalSource, table *NeighborTable, stations []string, interval time.Duration, ifaceFor func(string) string, logger *logrus.Logger) *Scanner {
	if ifaceFor == nil {
		ifaceFor = DefaultStationInterface
	}
	return &Scanner{
		source:   source,
		table:    table,
		interval: interval,
		ifaceFor: ifaceFor,
		logger:   logger,
		stations: stations,
	}
}

// DefaultStationInterface names a station's wireless interface "<station>-wlan0".
func DefaultStationInterface(station string) string {
	return fmt.Sprintf("%s-wlan0", station)
}

// WithRecorder sets where scan failures are counted.
func (s *Scanner) WithRecorder(r ErrorRecorder) *Scanner {
	s.recorder = r
	return s
}

// Run starts one scan loop per station and blocks until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Infof("Starting neighbor scans for %d stations every %v", len(s.stations), s.interval)

	var wg sync.WaitGroup
	for _, station := range s.stations {
		wg.Add(1)
		go func(station string) {
			defer wg.Done()
			s.loop(ctx, station)
		}(station)
	}
	wg.Wait()

	s.logger.Info("Stopping neighbor scans")
	return nil
}

func (s *Scanner) loop(ctx context.Context, station string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.ScanOnce(ctx, station)

	for {
		select {
		case <-ticker.C:
			s.ScanOnce(ctx, station)
		case <-ctx.Done():
			return
		}
	}
}

// ScanOnce scans one station and updates the table on success.
func (s *Scanner) ScanOnce(ctx context.Context, station string) {
	signals, err := s.source.Scan(ctx, station, s.ifaceFor(station))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.WithField("station", station).Warnf("Neighbor scan failed, keeping previous results: %v", err)
		if s.recorder != nil {
			s.recorder.ScanFailed(station)
		}
		return
	}

	s.table.Set(station, signals)
	s.logger.WithField("station", station).Debugf("Scanned %d neighbor SSIDs", len(signals))
}
