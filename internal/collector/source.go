package collector

import (
	"context"
	"fmt"

	"github.com/fbettag/apsteer/internal/iw"
)

// AP is one access point the agent reports on.
type AP struct {
	Name      string
	DPID      uint64
	Interface string
	// SSID overrides the SSID read from the interface when set.
	SSID string
	// MAC is the AP's radio address, used by controller-backed sources.
	MAC string
}

// APState is what a source knows about an AP at one instant.
type APState struct {
	SSID     string
	Stations []iw.StationCounters
}

// StationSource queries an AP for its SSID and associated stations.
type StationSource interface {
	APState(ctx context.Context, ap AP) (APState, error)
}

// IWSource reads AP state from the local wireless driver through iw.
type IWSource struct {
	client *iw.Client
}

func NewIWSource(client *iw.Client) *IWSource {
	return &IWSource{client: client}
}

func (s *IWSource) APState(ctx context.Context, ap AP) (APState, error) {
	ssid := ap.SSID
	if ssid == "" {
		info, err := s.client.Info(ctx, ap.Interface)
		if err != nil {
			return APState{}, fmt.Errorf("failed to read SSID of %s: %w", ap.Name, err)
		}
		ssid = info.SSID
	}

	stations, err := s.client.StationDump(ctx, ap.Interface)
	if err != nil {
		return APState{}, fmt.Errorf("failed to list stations of %s: %w", ap.Name, err)
	}

	return APState{SSID: ssid, Stations: stations}, nil
}
