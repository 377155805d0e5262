package iw

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when iw output does not contain what was asked for.
var ErrUnparseable = errors.New("unparseable iw output")

// StationCounters is one entry of "iw dev <if> station dump".
type StationCounters struct {
	MAC     string
	RxBytes uint64
	TxBytes uint64
	Signal  *float64
}

// InterfaceInfo is the subset of "iw dev <if> info" the collector needs.
type InterfaceInfo struct {
	Name string
	SSID string
	Addr string
	Type string
}

// ParseInfo parses the output of "iw dev <if> info".
func ParseInfo(output string) (InterfaceInfo, error) {
	var info InterfaceInfo

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "Interface":
			info.Name = fields[1]
		case "ssid":
			info.SSID = strings.Join(fields[1:], " ")
		case "addr":
			info.Addr = fields[1]
		case "type":
			info.Type = fields[1]
		}
	}

	if info.SSID == "" {
		return info, fmt.Errorf("%w: no ssid in interface info", ErrUnparseable)
	}
	return info, nil
}

// ParseStationDump parses the output of "iw dev <if> station dump". Stations
// keep the order iw lists them in. Missing byte counters are read as zero.
func ParseStationDump(output string) ([]StationCounters, error) {
	var stations []StationCounters
	var current *StationCounters

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "Station ") {
			fields := strings.Fields(line)
			mac, err := net.ParseMAC(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad station address %q", ErrUnparseable, fields[1])
			}
			stations = append(stations, StationCounters{MAC: mac.String()})
			current = &stations[len(stations)-1]
			continue
		}
		if current == nil {
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		switch key {
		case "rx bytes":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: rx bytes %q for %s", ErrUnparseable, value, current.MAC)
			}
			current.RxBytes = n
		case "tx bytes":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: tx bytes %q for %s", ErrUnparseable, value, current.MAC)
			}
			current.TxBytes = n
		case "signal":
			if dbm, err := parseDBm(value); err == nil {
				current.Signal = &dbm
			}
		}
	}

	return stations, nil
}

// ParseScan parses the output of "iw dev <if> scan" into SSID → signal (dBm).
// When an SSID is seen from several BSSes the strongest signal wins.
// Hidden networks are skipped.
func ParseScan(output string) (map[string]float64, error) {
	signals := make(map[string]float64)

	var signal *float64
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "BSS ") {
			signal = nil
			continue
		}

		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "signal":
			dbm, err := parseDBm(value)
			if err != nil {
				return nil, fmt.Errorf("%w: signal %q", ErrUnparseable, value)
			}
			signal = &dbm
		case "ssid":
			if value == "" || signal == nil {
				continue
			}
			if prev, seen := signals[value]; !seen || *signal > prev {
				signals[value] = *signal
			}
		}
	}

	return signals, nil
}

func splitKeyValue(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// parseDBm reads values such as "-36.00 dBm" or "-36 [-38, -40] dBm".
func parseDBm(value string) (float64, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, ErrUnparseable
	}
	return strconv.ParseFloat(fields[0], 64)
}
