package report

import (
	"time"
)

// StationStats is one associated station as seen by its AP during one
// sampling interval.
type StationStats struct {
	Name           string             `json:"-"`
	MAC            string             `json:"mac,omitempty"`
	NeighborSignal map[string]float64 `json:"neighbor_signal"`
	RxRateMbps     float64            `json:"rx_rate_mbps"`
	TxRateMbps     float64            `json:"tx_rate_mbps"`
}

// APReport is the per-AP part of a snapshot.
type APReport struct {
	Name               string     `json:"name"`
	DPID               uint64     `json:"dpid"`
	InterfaceName      string     `json:"interface_name"`
	SSID               string     `json:"ssid"`
	StationsAssociated StationSet `json:"stations_associated"`
}

// StationCount returns the number of associated stations.
func (r APReport) StationCount() int {
	return len(r.StationsAssociated)
}

// Snapshot is one atomic batch of AP reports produced by an agent.
type Snapshot struct {
	ID      string     `json:"id"`
	Agent   string     `json:"agent"`
	TakenAt time.Time  `json:"taken_at"`
	APs     []APReport `json:"aps"`
}

// Decision commands one station to reassociate with the target SSID.
type Decision struct {
	ID          string    `json:"id,omitempty"`
	StationName string    `json:"station_name"`
	TargetSSID  string    `json:"target_ssid"`
	FromAP      string    `json:"from_ap,omitempty"`
	FromSSID    string    `json:"from_ssid,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}
