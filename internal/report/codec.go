package report

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode marks a payload that could not be decoded.
var ErrDecode = errors.New("malformed payload")

func EncodeSnapshot(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	for _, ap := range s.APs {
		if ap.Name == "" || ap.SSID == "" {
			return Snapshot{}, fmt.Errorf("%w: AP report without name or ssid", ErrDecode)
		}
	}
	return s, nil
}

func EncodeDecision(d Decision) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decision: %w", err)
	}
	return data, nil
}

func DecodeDecision(data []byte) (Decision, error) {
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if d.StationName == "" || d.TargetSSID == "" {
		return Decision{}, fmt.Errorf("%w: decision without station or target", ErrDecode)
	}
	return d, nil
}
