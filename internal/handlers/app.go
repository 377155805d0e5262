// Package handlers serves the controller's operator API.
package handlers

import (
	"context"
	"time"

	"github.com/fbettag/apsteer/internal/auth"
	"github.com/fbettag/apsteer/internal/config"
	"github.com/fbettag/apsteer/internal/controller"
	"github.com/fbettag/apsteer/internal/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// CleanupInterval is how often old handovers are pruned.
const CleanupInterval = time.Hour

// Balancer is the part of the controller operators can see and steer.
type Balancer interface {
	Status() controller.Status
	Pause()
	Resume()
}

type App struct {
	Config       *config.Config
	DB           *database.DB
	Logger       *logrus.Logger
	SessionStore *auth.SessionStore
	Balancer     Balancer
	Hub          *Hub
	Gatherer     prometheus.Gatherer
}

// StartCleanupJob prunes handovers older than the retention period once
// at start and then every CleanupInterval until ctx is done.
func (app *App) StartCleanupJob(ctx context.Context) {
	app.Logger.Infof("Starting handover cleanup job (runs every %v)", CleanupInterval)

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	app.cleanupOldHandovers()

	for {
		select {
		case <-ticker.C:
			app.cleanupOldHandovers()
		case <-ctx.Done():
			app.Logger.Info("Stopping handover cleanup job")
			return
		}
	}
}

func (app *App) retentionDays() int {
	if app.Config == nil || app.Config.Controller.RetentionDays <= 0 {
		return config.DefaultRetentionDays
	}
	return app.Config.Controller.RetentionDays
}

func (app *App) cleanupOldHandovers() {
	days := app.retentionDays()
	deletedCount, err := app.DB.DeleteOldHandovers(days)
	if err != nil {
		app.Logger.Errorf("Failed to delete old handovers: %v", err)
		return
	}

	if deletedCount > 0 {
		app.Logger.Infof("Deleted %d old handover entries (>%d days)", deletedCount, days)
	}
}
