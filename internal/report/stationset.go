package report

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StationSet is a name-keyed set of stations that keeps report order. It is
// encoded as a JSON object whose keys appear in that order.
type StationSet []StationStats

// Get returns the station with the given name.
func (s StationSet) Get(name string) (StationStats, bool) {
	for _, st := range s {
		if st.Name == name {
			return st, true
		}
	}
	return StationStats{}, false
}

// Names returns station names in report order.
func (s StationSet) Names() []string {
	names := make([]string, len(s))
	for i, st := range s {
		names[i] = st.Name
	}
	return names
}

func (s StationSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, st := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(st.Name)
		if err != nil {
			return nil, err
		}
		if st.NeighborSignal == nil {
			st.NeighborSignal = map[string]float64{}
		}
		value, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *StationSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("stations_associated: expected object, got %v", tok)
	}

	set := StationSet{}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("stations_associated: expected key, got %v", tok)
		}
		if seen[name] {
			return fmt.Errorf("stations_associated: duplicate station %q", name)
		}
		seen[name] = true

		var st StationStats
		if err := dec.Decode(&st); err != nil {
			return fmt.Errorf("stations_associated[%s]: %w", name, err)
		}
		st.Name = name
		if st.NeighborSignal == nil {
			st.NeighborSignal = map[string]float64{}
		}
		set = append(set, st)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = set
	return nil
}
