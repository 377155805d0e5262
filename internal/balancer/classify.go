// Package balancer holds the load-balancing decision logic: partitioning APs
// by load and searching for one station to move.
package balancer

import (
	"github.com/fbettag/apsteer/internal/report"
)

// Load is an AP's classification relative to the station threshold.
type Load string

const (
	Overloaded  Load = "overloaded"
	Underloaded Load = "underloaded"
	Nominal     Load = "nominal"
)

// Classification is the result of Classify.
type Classification struct {
	Overloaded  []report.APReport
	Underloaded []report.APReport
}

// ClassifyAP places one AP relative to the threshold. An AP exactly at the
// threshold is nominal.
func ClassifyAP(ap report.APReport, stationThreshold int) Load {
	switch n := ap.StationCount(); {
	case n > stationThreshold:
		return Overloaded
	case n < stationThreshold:
		return Underloaded
	default:
		return Nominal
	}
}

// Classify partitions a snapshot's APs into overloaded and underloaded sets,
// keeping snapshot order. Nominal APs appear in neither.
func Classify(snapshot report.Snapshot, stationThreshold int) Classification {
	var c Classification
	for _, ap := range snapshot.APs {
		switch ClassifyAP(ap, stationThreshold) {
		case Overloaded:
			c.Overloaded = append(c.Overloaded, ap)
		case Underloaded:
			c.Underloaded = append(c.Underloaded, ap)
		}
	}
	return c
}

// Names returns the AP names of a report list.
func Names(aps []report.APReport) []string {
	names := make([]string, len(aps))
	for i, ap := range aps {
		names[i] = ap.Name
	}
	return names
}
