package mapping

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
)

var (
	ErrNotFound  = errors.New("station not in mapping table")
	ErrMalformed = errors.New("malformed mapping record")
)

// Entry is one station record of the mapping table.
type Entry struct {
	Name   string
	MAC    net.HardwareAddr
	IP     net.IP
	Prefix int
}

// Table resolves stations by hardware address or name. It is loaded once
// at startup and read-only afterwards.
type Table struct {
	byMAC  map[string]*Entry
	byName map[string]*Entry
	order  []*Entry
}

// Load reads a mapping file from disk.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping table: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads whitespace-delimited records of the form
// "<mac> <name> <ip>/<prefix>". The column order "<name> <mac> <ip>/<prefix>"
// is accepted as well; the MAC column is detected by parsing.
func Parse(r io.Reader) (*Table, error) {
	t := &Table{
		byMAC:  make(map[string]*Entry),
		byName: make(map[string]*Entry),
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		key := entry.MAC.String()
		if _, dup := t.byMAC[key]; dup {
			return nil, fmt.Errorf("line %d: duplicate hardware address %s: %w", lineNo, key, ErrMalformed)
		}
		if _, dup := t.byName[entry.Name]; dup {
			return nil, fmt.Errorf("line %d: duplicate station name %s: %w", lineNo, entry.Name, ErrMalformed)
		}

		t.byMAC[key] = entry
		t.byName[entry.Name] = entry
		t.order = append(t.order, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mapping table: %w", err)
	}

	return t, nil
}

func parseRecord(line string) (*Entry, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, fmt.Errorf("expected 3 fields, got %d: %w", len(fields), ErrMalformed)
	}

	macField, nameField := fields[0], fields[1]
	mac, err := net.ParseMAC(macField)
	if err != nil {
		mac, err = net.ParseMAC(nameField)
		if err != nil {
			return nil, fmt.Errorf("no hardware address in %q: %w", line, ErrMalformed)
		}
		nameField = macField
	}

	ip, ipNet, err := net.ParseCIDR(fields[2])
	if err != nil {
		ip = net.ParseIP(fields[2])
		if ip == nil {
			return nil, fmt.Errorf("invalid network address %q: %w", fields[2], ErrMalformed)
		}
		return &Entry{Name: nameField, MAC: mac, IP: ip, Prefix: 32}, nil
	}
	prefix, _ := ipNet.Mask.Size()

	return &Entry{Name: nameField, MAC: mac, IP: ip, Prefix: prefix}, nil
}

// ByMAC looks up a station by hardware address in any notation net.ParseMAC accepts.
func (t *Table) ByMAC(mac string) (*Entry, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mac, ErrNotFound)
	}
	entry, ok := t.byMAC[hw.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", mac, ErrNotFound)
	}
	return entry, nil
}

// ByName looks up a station by name.
func (t *Table) ByName(name string) (*Entry, error) {
	entry, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return entry, nil
}

// Has reports whether a station name is in the table.
func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// NameFor returns the station name for a hardware address, or the address
// itself when the station is unknown.
func (t *Table) NameFor(mac string) string {
	if entry, err := t.ByMAC(mac); err == nil {
		return entry.Name
	}
	return strings.ToLower(mac)
}

// Entries returns all records in file order.
func (t *Table) Entries() []Entry {
	entries := make([]Entry, len(t.order))
	for i, e := range t.order {
		entries[i] = *e
	}
	return entries
}

// Names returns all station names sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) Len() int {
	return len(t.order)
}
