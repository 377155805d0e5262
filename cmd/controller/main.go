package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fbettag/apsteer/internal/auth"
	"github.com/fbettag/apsteer/internal/cmdrun"
	"github.com/fbettag/apsteer/internal/config"
	"github.com/fbettag/apsteer/internal/controller"
	"github.com/fbettag/apsteer/internal/database"
	"github.com/fbettag/apsteer/internal/fabric"
	"github.com/fbettag/apsteer/internal/handlers"
	"github.com/fbettag/apsteer/internal/mapping"
	"github.com/fbettag/apsteer/internal/telemetry"
	"github.com/fbettag/apsteer/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	Version = "dev" // Set by build process
)

var (
	configFile    = flag.String("config", "config.yaml", "Path to configuration file")
	mappingFile   = flag.String("mapping", "", "Path to station mapping file (overrides config)")
	natsURL       = flag.String("nats", "", "NATS server URL (overrides config)")
	dbPath        = flag.String("database", "", "Path to database file (overrides config)")
	adminUser     = flag.String("admin-user", "", "Set the operator username and exit")
	adminPassword = flag.String("admin-password", "", "Operator password to store with --admin-user")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion   = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("apsteer controller %s\n", Version)
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	cfg, err := config.LoadOrInitialize(*configFile)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if *adminUser != "" {
		if err := setAdmin(cfg, *adminUser, *adminPassword); err != nil {
			logger.Fatalf("Failed to set operator account: %v", err)
		}
		logger.Infof("Operator account %s saved to %s", *adminUser, *configFile)
		os.Exit(0)
	}

	logger.Infof("Starting apsteer controller %s", Version)

	if *mappingFile != "" {
		cfg.MappingPath = *mappingFile
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *dbPath != "" {
		cfg.Controller.DatabasePath = *dbPath
		logger.Infof("Using database path from command line: %s", cfg.Controller.DatabasePath)
	}
	if err := cfg.ValidateController(); err != nil {
		logger.Fatalf("Invalid controller configuration: %v", err)
	}
	if !cfg.IsConfigured() {
		logger.Warn("No operator account configured, API login is disabled (use --admin-user)")
	}

	table, err := mapping.Load(cfg.MappingPath)
	if err != nil {
		logger.Fatalf("Failed to load station mapping: %v", err)
	}
	logger.Infof("Loaded %d stations from %s", table.Len(), cfg.MappingPath)

	db, err := database.Initialize(cfg.Controller.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	metrics, err := telemetry.New(nil)
	if err != nil {
		logger.Fatalf("Failed to register metrics: %v", err)
	}

	datapaths := buildDatapaths(cfg.Controller.Fabric, cmdrun.NewExecRunner(15*time.Second))
	logger.Infof("Managing %d datapaths (%s driver)", len(datapaths), cfg.Controller.Fabric.Driver)

	bus, err := transport.Connect(cfg.NATS.URL, "apsteer-controller", logger)
	if err != nil {
		logger.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	hub := handlers.NewHub(logger)
	defer hub.Close()

	ctrl := controller.New(controller.Options{
		Bus:              bus,
		Mapping:          table,
		Invalidator:      fabric.NewInvalidator(datapaths, logger).WithRecorder(metrics),
		Switch:           fabric.NewLearningSwitch(logger),
		StationThreshold: cfg.Controller.StationThreshold,
		SignalThreshold:  cfg.Controller.SignalThreshold,
		Cooldown:         cfg.Controller.Cooldown(),
		Log:              db,
		Events:           hub,
		Recorder:         metrics,
		Logger:           logger,
	})

	app := &handlers.App{
		Config:       cfg,
		DB:           db,
		Logger:       logger,
		SessionStore: auth.NewSessionStore(cfg.SessionSecret),
		Balancer:     ctrl,
		Hub:          hub,
		Gatherer:     metrics.Gatherer(),
	}

	server := &http.Server{
		Addr:         cfg.Controller.ListenAddr,
		Handler:      app.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting operator API on %s", cfg.Controller.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("operator API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		app.StartCleanupJob(ctx)
		return nil
	})
	g.Go(func() error {
		return ctrl.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Controller stopped: %v", err)
	}
	logger.Info("Shutting down...")
}

func setAdmin(cfg *config.Config, username, password string) error {
	if password == "" {
		return errors.New("--admin-password is required")
	}
	cfg.Admin.Username = username
	if err := cfg.SetAdminPassword(password); err != nil {
		return err
	}
	return config.SaveConfig(*configFile, cfg)
}

func buildDatapaths(cfg config.FabricConfig, runner cmdrun.Runner) []fabric.Datapath {
	datapaths := make([]fabric.Datapath, 0, len(cfg.Datapaths))
	for _, dp := range cfg.Datapaths {
		switch cfg.Driver {
		case config.DriverOVS:
			datapaths = append(datapaths, fabric.NewOVSDatapath(dp.DPID, dp.Bridge, runner))
		default:
			datapaths = append(datapaths, fabric.NewMemoryDatapath(dp.DPID))
		}
	}
	return datapaths
}
