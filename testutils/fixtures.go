package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fbettag/apsteer/internal/auth"
	"github.com/fbettag/apsteer/internal/config"
	"github.com/fbettag/apsteer/internal/controller"
	"github.com/fbettag/apsteer/internal/database"
	"github.com/fbettag/apsteer/internal/handlers"
	"github.com/fbettag/apsteer/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	AdminUsername = "admin"
	AdminPassword = "testpassword123"
)

// TestApp holds test application context
type TestApp struct {
	App      *handlers.App
	Config   *config.Config
	Balancer *FakeBalancer
	Metrics  *telemetry.Metrics
}

// NewTestApp creates an operator API backed by a temporary database, a
// fake balancer and a private metrics registry. Everything is released
// when the test ends.
func NewTestApp(t *testing.T) *TestApp {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in tests
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})

	cfg := &config.Config{
		SessionSecret: "test-session-secret-32-characters!",
	}
	cfg.Controller.DatabasePath = filepath.Join(t.TempDir(), "apsteer.db")
	cfg.Controller.RetentionDays = config.DefaultRetentionDays
	cfg.Admin.Username = AdminUsername
	if err := cfg.SetAdminPassword(AdminPassword); err != nil {
		t.Fatalf("Failed to set admin password: %v", err)
	}

	db, err := database.Initialize(cfg.Controller.DatabasePath)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	metrics, err := telemetry.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to register metrics: %v", err)
	}

	hub := handlers.NewHub(logger)
	t.Cleanup(hub.Close)

	balancer := &FakeBalancer{}
	app := &handlers.App{
		Config:       cfg,
		DB:           db,
		Logger:       logger,
		SessionStore: auth.NewSessionStore(cfg.SessionSecret),
		Balancer:     balancer,
		Hub:          hub,
		Gatherer:     metrics.Gatherer(),
	}

	return &TestApp{
		App:      app,
		Config:   cfg,
		Balancer: balancer,
		Metrics:  metrics,
	}
}

// FakeBalancer stands in for the controller behind the operator API.
type FakeBalancer struct {
	mu     sync.Mutex
	status controller.Status
}

// SetStatus replaces the status reported to operators. The paused flag is
// kept.
func (b *FakeBalancer) SetStatus(st controller.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st.Paused = b.status.Paused
	b.status = st
}

func (b *FakeBalancer) Status() controller.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *FakeBalancer) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Paused = true
}

func (b *FakeBalancer) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Paused = false
}

// WriteMappingFile writes mapping records, one per line, to a temporary
// file and returns its path.
func WriteMappingFile(t *testing.T, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mapping.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("Failed to write mapping file: %v", err)
	}
	return path
}

// DefaultMapping is the station table of the two station test topology.
func DefaultMapping() []string {
	return []string{
		"00:00:00:00:00:02 sta1 10.0.0.2/8",
		"00:00:00:00:00:03 sta2 10.0.0.3/8",
		"00:00:00:00:00:04 sta3 10.0.0.4/8",
	}
}
