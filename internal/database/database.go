package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Handover statuses.
const (
	StatusPublished          = "published"
	StatusPublishFailed      = "publish_failed"
	StatusInvalidationFailed = "invalidation_failed"
)

type DB struct {
	*sql.DB
}

type Handover struct {
	ID           int64     `json:"id"`
	DecisionID   string    `json:"decision_id"`
	Timestamp    time.Time `json:"timestamp"`
	Station      string    `json:"station"`
	StationMAC   string    `json:"station_mac,omitempty"`
	FromAP       string    `json:"from_ap,omitempty"`
	FromSSID     string    `json:"from_ssid,omitempty"`
	TargetSSID   string    `json:"target_ssid"`
	Status       string    `json:"status"` // "published", "publish_failed", "invalidation_failed"
	FlowsRemoved int       `json:"flows_removed"`
	Message      string    `json:"message"`
}

type StationState struct {
	Station      string    `json:"station"`
	MAC          string    `json:"mac,omitempty"`
	LastSSID     string    `json:"last_ssid"`
	LastHandover time.Time `json:"last_handover"`
}

func Initialize(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS handovers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		decision_id TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		station TEXT NOT NULL,
		station_mac TEXT,
		from_ap TEXT,
		from_ssid TEXT,
		target_ssid TEXT NOT NULL,
		status TEXT NOT NULL,
		flows_removed INTEGER DEFAULT 0,
		message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_handovers_timestamp ON handovers(timestamp);
	CREATE INDEX IF NOT EXISTS idx_handovers_station ON handovers(station);
	CREATE INDEX IF NOT EXISTS idx_handovers_status ON handovers(status);

	CREATE TABLE IF NOT EXISTS station_states (
		station TEXT PRIMARY KEY,
		mac TEXT,
		last_ssid TEXT,
		last_handover DATETIME
	);
	`

	_, err := db.Exec(schema)
	return err
}

// RecordHandover stores a handover attempt. Published handovers also
// update the station's state.
func (db *DB) RecordHandover(h *Handover) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO handovers (decision_id, station, station_mac, from_ap, from_ssid, target_ssid, status, flows_removed, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(query, h.DecisionID, h.Station, h.StationMAC, h.FromAP, h.FromSSID,
		h.TargetSSID, h.Status, h.FlowsRemoved, h.Message); err != nil {
		return err
	}

	if h.Status == StatusPublished {
		query = `
			INSERT INTO station_states (station, mac, last_ssid, last_handover)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(station) DO UPDATE SET
				mac = excluded.mac,
				last_ssid = excluded.last_ssid,
				last_handover = excluded.last_handover
		`
		if _, err := tx.Exec(query, h.Station, h.StationMAC, h.TargetSSID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const handoverColumns = `id, decision_id, timestamp, station, COALESCE(station_mac, ''),
		       COALESCE(from_ap, ''), COALESCE(from_ssid, ''), target_ssid, status,
		       flows_removed, COALESCE(message, '')`

func scanHandovers(rows *sql.Rows) ([]Handover, error) {
	defer rows.Close()

	handovers := []Handover{}
	for rows.Next() {
		var h Handover
		err := rows.Scan(&h.ID, &h.DecisionID, &h.Timestamp, &h.Station, &h.StationMAC,
			&h.FromAP, &h.FromSSID, &h.TargetSSID, &h.Status, &h.FlowsRemoved, &h.Message)
		if err != nil {
			return nil, err
		}
		handovers = append(handovers, h)
	}
	return handovers, rows.Err()
}

func (db *DB) GetHandovers(limit int, offset int) ([]Handover, error) {
	query := `SELECT ` + handoverColumns + `
		FROM handovers
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanHandovers(rows)
}

func (db *DB) GetHandoversByStation(station string, limit int) ([]Handover, error) {
	query := `SELECT ` + handoverColumns + `
		FROM handovers
		WHERE station = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`
	rows, err := db.Query(query, station, limit)
	if err != nil {
		return nil, err
	}
	return scanHandovers(rows)
}

func (db *DB) GetRecentHandovers(hours int) ([]Handover, error) {
	query := `SELECT ` + handoverColumns + `
		FROM handovers
		WHERE timestamp > datetime('now', '-' || ? || ' hours')
		ORDER BY timestamp DESC, id DESC
	`
	rows, err := db.Query(query, hours)
	if err != nil {
		return nil, err
	}
	return scanHandovers(rows)
}

// GetLastHandover returns when the station was last moved, or the zero
// time if never.
func (db *DB) GetLastHandover(station string) (time.Time, error) {
	var last sql.NullTime
	query := `SELECT last_handover FROM station_states WHERE station = ?`
	err := db.QueryRow(query, station).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if last.Valid {
		return last.Time, nil
	}
	return time.Time{}, nil
}

func (db *DB) GetStationStates() ([]StationState, error) {
	query := `
		SELECT station, COALESCE(mac, ''), COALESCE(last_ssid, ''), last_handover
		FROM station_states
		ORDER BY station
	`
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := []StationState{}
	for rows.Next() {
		var s StationState
		var last sql.NullTime
		if err := rows.Scan(&s.Station, &s.MAC, &s.LastSSID, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			s.LastHandover = last.Time
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// DeleteOldHandovers deletes handover entries older than the specified number of days
func (db *DB) DeleteOldHandovers(daysToKeep int) (int64, error) {
	query := `DELETE FROM handovers WHERE timestamp < datetime('now', '-' || ? || ' days')`
	result, err := db.Exec(query, daysToKeep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
