package unifi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unpoller/unifi/v5"
)

// ErrNotLoggedIn is returned by queries issued before a successful Login.
var ErrNotLoggedIn = errors.New("not logged in")

const (
	requestTimeout = 30 * time.Second
	// activeWindow is how recently a client must have been heard to count
	// as associated.
	activeWindow = 5 * time.Minute
)

// Client reads radios and wireless clients from a UniFi Network controller.
type Client struct {
	url    string
	user   string
	pass   string
	logger Logger
	now    func() time.Time

	api *unifi.Unifi
}

func NewClient(url, user, pass string, logger Logger) *Client {
	return &Client{
		url:    strings.TrimRight(url, "/"),
		user:   user,
		pass:   pass,
		logger: logger,
		now:    time.Now,
	}
}

// Login opens a fresh controller session. A failed login keeps the previous
// session, if any.
func (c *Client) Login() error {
	c.logger.Debugf("Logging in to UniFi controller %s as %s", c.url, c.user)

	api, err := unifi.NewUnifi(&unifi.Config{
		User:      c.user,
		Pass:      c.pass,
		URL:       c.url,
		VerifySSL: false, // controllers ship self-signed certificates
		Timeout:   requestTimeout,
		ErrorLog:  c.logger.Errorf,
		DebugLog:  c.logger.Debugf,
	})
	if err == nil {
		err = api.Login()
	}
	if err != nil {
		return fmt.Errorf("failed to log in to %s: %w", c.url, err)
	}

	c.api = api
	c.logger.Infof("Logged in to UniFi controller %s", c.url)
	return nil
}

func sitesFor(siteID string) []*unifi.Site {
	if siteID == "" {
		return nil
	}
	return []*unifi.Site{{Name: siteID}}
}

// GetAccessPoints lists the site's access points. An empty siteID covers
// every site.
func (c *Client) GetAccessPoints(siteID string) ([]AccessPoint, error) {
	if c.api == nil {
		return nil, ErrNotLoggedIn
	}

	devices, err := c.api.GetDevices(sitesFor(siteID))
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	aps := make([]AccessPoint, 0, len(devices.UAPs))
	for _, d := range devices.UAPs {
		aps = append(aps, AccessPoint{
			Name:    d.Name,
			MAC:     strings.ToLower(d.Mac),
			Adopted: d.Adopted.Val,
		})
	}
	return aps, nil
}

// GetActiveClients lists the site's wireless clients heard within the
// active window.
func (c *Client) GetActiveClients(siteID string) ([]WirelessClient, error) {
	if c.api == nil {
		return nil, ErrNotLoggedIn
	}

	clients, err := c.api.GetClients(sitesFor(siteID))
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	cutoff := c.now().Add(-activeWindow)
	active := make([]WirelessClient, 0, len(clients))
	for _, cl := range clients {
		if cl.IsWired.Val || time.Unix(int64(cl.LastSeen.Val), 0).Before(cutoff) {
			continue
		}
		active = append(active, WirelessClient{
			MAC:     cl.Mac,
			APMAC:   cl.ApMac,
			ESSID:   cl.Essid,
			RxBytes: int64(cl.RxBytes.Val),
			TxBytes: int64(cl.TxBytes.Val),
			Signal:  int(cl.Signal.Val),
		})
	}
	return active, nil
}
