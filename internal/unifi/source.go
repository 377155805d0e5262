package unifi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fbettag/apsteer/internal/collector"
	"github.com/fbettag/apsteer/internal/iw"
)

// ClientLister is the part of Client the station source needs.
type ClientLister interface {
	Login() error
	GetAccessPoints(siteID string) ([]AccessPoint, error)
	GetActiveClients(siteID string) ([]WirelessClient, error)
}

// StationSource reports the stations of an AP from a UniFi controller. One
// client listing is shared by all APs polled within the same cycle.
type StationSource struct {
	client ClientLister
	siteID string
	logger Logger
	maxAge time.Duration
	now    func() time.Time

	mu        sync.Mutex
	clients   []WirelessClient
	fetchedAt time.Time
	ssids     map[string]string
	apMACs    map[string]string

	// Authentication retry state
	authRetryCount   int
	lastAuthAttempt  time.Time
	authRetryBackoff time.Duration
}

func NewStationSource(client ClientLister, siteID string, logger Logger) *StationSource {
	return &StationSource{
		client: client,
		siteID: siteID,
		logger: logger,
		maxAge: time.Second,
		now:    time.Now,
		ssids:  make(map[string]string),
		apMACs: make(map[string]string),
	}
}

// APState reports the clients associated with ap. An AP configured without
// a MAC is looked up by name among the controller's access points.
func (s *StationSource) APState(_ context.Context, ap collector.AP) (collector.APState, error) {
	apMAC := strings.ToLower(ap.MAC)
	if apMAC == "" {
		var err error
		if apMAC, err = s.resolveMAC(ap.Name); err != nil {
			return collector.APState{}, err
		}
	}

	clients, err := s.activeClients()
	if err != nil {
		return collector.APState{}, err
	}

	state := collector.APState{SSID: ap.SSID}

	for _, c := range clients {
		if strings.ToLower(c.APMAC) != apMAC {
			continue
		}
		signal := float64(c.Signal)
		state.Stations = append(state.Stations, iw.StationCounters{
			MAC:     strings.ToLower(c.MAC),
			RxBytes: counter(c.RxBytes),
			TxBytes: counter(c.TxBytes),
			Signal:  &signal,
		})
		if state.SSID == "" && c.ESSID != "" {
			state.SSID = c.ESSID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state.SSID == "" {
		state.SSID = s.ssids[ap.Name]
	}
	if state.SSID == "" {
		return collector.APState{}, fmt.Errorf("SSID of %s unknown: no override and no associated clients", ap.Name)
	}
	s.ssids[ap.Name] = state.SSID

	return state, nil
}

// resolveMAC returns the MAC of the access point named name. The AP list
// is fetched again only for names not seen before.
func (s *StationSource) resolveMAC(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mac, ok := s.apMACs[name]; ok {
		return mac, nil
	}

	var aps []AccessPoint
	err := s.withReauth(func() (err error) {
		aps, err = s.client.GetAccessPoints(s.siteID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to list access points: %w", err)
	}
	for _, ap := range aps {
		if ap.Name != "" {
			s.apMACs[ap.Name] = strings.ToLower(ap.MAC)
		}
	}

	mac, ok := s.apMACs[name]
	if !ok {
		return "", fmt.Errorf("no access point named %s on site %s", name, s.siteID)
	}
	s.logger.Infof("Resolved AP %s to %s", name, mac)
	return mac, nil
}

func (s *StationSource) activeClients() ([]WirelessClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients != nil && s.now().Sub(s.fetchedAt) < s.maxAge {
		return s.clients, nil
	}

	var clients []WirelessClient
	err := s.withReauth(func() (err error) {
		clients, err = s.client.GetActiveClients(s.siteID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get active clients: %w", err)
	}
	if clients == nil {
		clients = []WirelessClient{}
	}

	s.clients = clients
	s.fetchedAt = s.now()
	return clients, nil
}

// withReauth runs query, and once more after logging in again when it
// failed on authentication. Callers hold s.mu.
func (s *StationSource) withReauth(query func() error) error {
	err := query()
	if err == nil || !isAuthError(err) {
		return err
	}
	if reauthErr := s.reauthenticateWithBackoff(); reauthErr != nil {
		return err
	}
	if err := query(); err != nil {
		return fmt.Errorf("after re-authentication: %w", err)
	}
	return nil
}

// reauthenticateWithBackoff logs in again, waiting exponentially longer
// between failed attempts. Callers hold s.mu.
func (s *StationSource) reauthenticateWithBackoff() error {
	if s.now().Sub(s.lastAuthAttempt) < s.authRetryBackoff {
		return fmt.Errorf("authentication retry backoff in effect (wait %v)", s.authRetryBackoff-s.now().Sub(s.lastAuthAttempt))
	}

	s.lastAuthAttempt = s.now()
	s.logger.Infof("Attempting to re-authenticate with UniFi controller (attempt #%d)", s.authRetryCount+1)

	if err := s.client.Login(); err != nil {
		s.authRetryCount++

		// Exponential backoff: 1s, 2s, 4s, 8s, 16s, 32s, 64s (max)
		s.authRetryBackoff = time.Duration(1<<uint(s.authRetryCount-1)) * time.Second
		if s.authRetryBackoff > 64*time.Second {
			s.authRetryBackoff = 64 * time.Second
		}

		s.logger.Warnf("Re-authentication failed (attempt #%d): %v. Next retry in %v", s.authRetryCount, err, s.authRetryBackoff)
		return err
	}

	s.authRetryCount = 0
	s.authRetryBackoff = 0
	s.logger.Infof("Successfully re-authenticated with UniFi controller")
	return nil
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotLoggedIn) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "invalid token")
}

func counter(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
