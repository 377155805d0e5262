package unifi

// AccessPoint is a radio adopted by the controller.
type AccessPoint struct {
	Name    string `json:"name"`
	MAC     string `json:"mac"`
	Adopted bool   `json:"adopted"`
}

// WirelessClient is a station associated with one of the controller's APs.
// Byte counters are cumulative from the AP's point of view.
type WirelessClient struct {
	MAC     string `json:"mac"`
	APMAC   string `json:"ap_mac"`
	ESSID   string `json:"essid"`
	RxBytes int64  `json:"rx_bytes"`
	TxBytes int64  `json:"tx_bytes"`
	Signal  int    `json:"signal"`
}
