package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the operator router. Everything under /api except login,
// and the /ws event stream, require a session.
func (app *App) Routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", app.HealthHandler).Methods("GET")
	router.Handle("/metrics", app.metricsHandler()).Methods("GET")
	router.HandleFunc("/api/login", app.LoginHandler).Methods("POST")

	protected := router.PathPrefix("/").Subrouter()
	protected.Use(app.AuthMiddleware)
	protected.HandleFunc("/ws", app.WebSocketHandler).Methods("GET")

	api := protected.PathPrefix("/api").Subrouter()
	api.HandleFunc("/logout", app.LogoutHandler).Methods("POST")
	api.HandleFunc("/status", app.GetStatusHandler).Methods("GET")
	api.HandleFunc("/handovers", app.GetHandoversHandler).Methods("GET")
	api.HandleFunc("/stations", app.GetStationsHandler).Methods("GET")
	api.HandleFunc("/balancing/pause", app.PauseHandler).Methods("POST")
	api.HandleFunc("/balancing/resume", app.ResumeHandler).Methods("POST")

	return router
}

func (app *App) metricsHandler() http.Handler {
	gatherer := app.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware to check authentication
func (app *App) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !app.SessionStore.IsAuthenticated(r) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				app.sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
			} else {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Login API endpoint
func (app *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		app.sendJSONError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if !app.Config.IsConfigured() {
		app.sendJSONError(w, "No operator account configured", http.StatusServiceUnavailable)
		return
	}

	if req.Username != app.Config.Admin.Username ||
		!app.Config.VerifyAdminPassword(req.Password) {
		app.Logger.Warnf("Failed login attempt for user %q from %s", req.Username, r.RemoteAddr)
		app.sendJSONError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := app.SessionStore.Login(r, w, req.Username); err != nil {
		app.sendJSONError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	app.writeJSON(w, map[string]bool{"success": true})
}

func (app *App) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.SessionStore.Logout(r, w); err != nil {
		app.Logger.Errorf("Failed to logout: %v", err)
	}
	app.writeJSON(w, map[string]bool{"success": true})
}

func (app *App) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if app.Hub == nil {
		app.sendJSONError(w, "Event stream disabled", http.StatusServiceUnavailable)
		return
	}
	app.Hub.HandleWebSocket(w, r, app.SessionStore.Operator(r))
}
