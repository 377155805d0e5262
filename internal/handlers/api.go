package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fbettag/apsteer/internal/database"
)

const (
	defaultHandoverLimit = 100
	maxHandoverLimit     = 1000
)

// Helper function to send JSON error responses
func (app *App) sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	}); err != nil {
		app.Logger.Errorf("Failed to encode error response: %v", err)
	}
}

func (app *App) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Errorf("Failed to encode response: %v", err)
	}
}

func (app *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	app.writeJSON(w, map[string]string{"status": "ok"})
}

// Get status API
func (app *App) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	app.writeJSON(w, app.Balancer.Status())
}

// Get handovers API. Supports limit and offset paging, or a station or
// hours filter.
func (app *App) GetHandoversHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := defaultHandoverLimit
	offset := 0

	if l := query.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxHandoverLimit {
		limit = maxHandoverLimit
	}

	if o := query.Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	var (
		handovers []database.Handover
		err       error
	)
	hours, _ := strconv.Atoi(query.Get("hours"))
	if station := query.Get("station"); station != "" {
		handovers, err = app.DB.GetHandoversByStation(station, limit)
	} else if hours > 0 {
		handovers, err = app.DB.GetRecentHandovers(hours)
	} else {
		handovers, err = app.DB.GetHandovers(limit, offset)
	}
	if err != nil {
		app.Logger.Errorf("Failed to get handovers: %v", err)
		app.sendJSONError(w, "Failed to get handovers", http.StatusInternalServerError)
		return
	}

	app.writeJSON(w, handovers)
}

// Get stations API: the last handover target of every steered station.
func (app *App) GetStationsHandler(w http.ResponseWriter, r *http.Request) {
	states, err := app.DB.GetStationStates()
	if err != nil {
		app.Logger.Errorf("Failed to get station states: %v", err)
		app.sendJSONError(w, "Failed to get stations", http.StatusInternalServerError)
		return
	}

	app.writeJSON(w, states)
}

func (app *App) PauseHandler(w http.ResponseWriter, r *http.Request) {
	app.Balancer.Pause()
	app.Logger.Infof("Balancing paused by %s", app.SessionStore.Operator(r))
	app.Hub.Broadcast("balancing", map[string]bool{"paused": true})
	app.writeJSON(w, map[string]bool{"success": true, "paused": true})
}

func (app *App) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	app.Balancer.Resume()
	app.Logger.Infof("Balancing resumed by %s", app.SessionStore.Operator(r))
	app.Hub.Broadcast("balancing", map[string]bool{"paused": false})
	app.writeJSON(w, map[string]bool{"success": true, "paused": false})
}
