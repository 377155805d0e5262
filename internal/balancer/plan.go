package balancer

import (
	"sort"

	"github.com/fbettag/apsteer/internal/report"
)

// Exclusion reports stations that must not be planned this cycle.
type Exclusion func(station string) bool

// Plan searches the overloaded APs, in order, for the first station that
// sees some underloaded AP other than its own with a signal strictly above
// signalThreshold (dBm). At most one decision is returned. Among several
// candidate SSIDs for that station the lexicographically smallest wins.
func Plan(overloaded, underloaded []report.APReport, signalThreshold float64) (report.Decision, bool) {
	return PlanExcluding(overloaded, underloaded, signalThreshold, nil)
}

// PlanExcluding is Plan with stations rejected by skip left out of the search.
func PlanExcluding(overloaded, underloaded []report.APReport, signalThreshold float64, skip Exclusion) (report.Decision, bool) {
	if len(overloaded) == 0 || len(underloaded) == 0 {
		return report.Decision{}, false
	}

	underloadedSSIDs := make(map[string]bool, len(underloaded))
	for _, ap := range underloaded {
		underloadedSSIDs[ap.SSID] = true
	}

	for _, ap := range overloaded {
		for _, st := range ap.StationsAssociated {
			if skip != nil && skip(st.Name) {
				continue
			}

			candidates := Candidates(st, ap.SSID, underloadedSSIDs, signalThreshold)
			if len(candidates) == 0 {
				continue
			}

			return report.Decision{
				StationName: st.Name,
				TargetSSID:  candidates[0],
				FromAP:      ap.Name,
				FromSSID:    ap.SSID,
			}, true
		}
	}

	return report.Decision{}, false
}

// Candidates returns, sorted, the underloaded SSIDs a station sees above the
// threshold, excluding its current SSID.
func Candidates(st report.StationStats, currentSSID string, underloadedSSIDs map[string]bool, signalThreshold float64) []string {
	var candidates []string
	for ssid, signal := range st.NeighborSignal {
		if ssid == currentSSID || signal <= signalThreshold {
			continue
		}
		if underloadedSSIDs[ssid] {
			candidates = append(candidates, ssid)
		}
	}
	sort.Strings(candidates)
	return candidates
}
