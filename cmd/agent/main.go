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

	"github.com/fbettag/apsteer/internal/agent"
	"github.com/fbettag/apsteer/internal/cmdrun"
	"github.com/fbettag/apsteer/internal/collector"
	"github.com/fbettag/apsteer/internal/config"
	"github.com/fbettag/apsteer/internal/iw"
	"github.com/fbettag/apsteer/internal/mapping"
	"github.com/fbettag/apsteer/internal/rate"
	"github.com/fbettag/apsteer/internal/reassoc"
	"github.com/fbettag/apsteer/internal/scanner"
	"github.com/fbettag/apsteer/internal/telemetry"
	"github.com/fbettag/apsteer/internal/transport"
	"github.com/fbettag/apsteer/internal/unifi"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	Version = "dev" // Set by build process
)

var (
	configFile  = flag.String("config", "config.yaml", "Path to configuration file")
	mappingFile = flag.String("mapping", "", "Path to station mapping file (overrides config)")
	natsURL     = flag.String("nats", "", "NATS server URL (overrides config)")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("apsteer agent %s\n", Version)
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

	logger.Infof("Starting apsteer agent %s", Version)

	cfg, err := config.LoadOrInitialize(*configFile)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if *mappingFile != "" {
		cfg.MappingPath = *mappingFile
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if err := cfg.ValidateAgent(); err != nil {
		logger.Fatalf("Invalid agent configuration: %v", err)
	}

	table, err := mapping.Load(cfg.MappingPath)
	if err != nil {
		logger.Fatalf("Failed to load station mapping: %v", err)
	}
	logger.Infof("Loaded %d stations from %s", table.Len(), cfg.MappingPath)

	metrics, err := telemetry.New(nil)
	if err != nil {
		logger.Fatalf("Failed to register metrics: %v", err)
	}

	runner := cmdrun.NewExecRunner(cfg.Agent.Timeout())
	iwClient := iw.NewClient(runner, cfg.Agent.StationExec)

	source, err := stationSource(cfg, iwClient, logger)
	if err != nil {
		logger.Fatalf("Failed to set up station source: %v", err)
	}

	aps := make([]collector.AP, 0, len(cfg.Agent.APs))
	for _, ap := range cfg.Agent.APs {
		aps = append(aps, collector.AP{
			Name:      ap.Name,
			DPID:      ap.DPID,
			Interface: ap.APInterface(),
			SSID:      ap.SSID,
			MAC:       ap.MAC,
		})
	}

	neighbors := scanner.NewNeighborTable()
	scan := scanner.New(iwClient, neighbors, table.Names(), cfg.Agent.ScanEvery(),
		cfg.Agent.StationInterfaceFor, logger).WithRecorder(metrics)

	coll := collector.New(collector.Options{
		Agent:     cfg.Agent.Name,
		APs:       aps,
		Source:    source,
		Estimator: rate.NewEstimator(),
		Neighbors: neighbors,
		Names:     table,
		Interval:  cfg.Agent.CollectEvery(),
		Logger:    logger,
		Recorder:  metrics,
	})

	executor := reassoc.NewExecutor(iwClient, cfg.Agent.StationInterfaceFor, logger).WithRecorder(metrics)

	bus, err := transport.Connect(cfg.NATS.URL, "apsteer-agent-"+cfg.Agent.Name, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	a := agent.New(agent.Options{
		Name:            cfg.Agent.Name,
		Bus:             bus,
		Collector:       coll,
		Scanner:         scan,
		Executor:        executor,
		Stations:        table,
		PublishInterval: cfg.Agent.PublishEvery(),
		Recorder:        metrics,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{})).Methods("GET")

	server := &http.Server{
		Addr:         cfg.Agent.MetricsAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Serving metrics on %s", cfg.Agent.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
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
		return a.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Agent stopped: %v", err)
	}
	logger.Info("Shutting down...")
}

func stationSource(cfg *config.Config, iwClient *iw.Client, logger *logrus.Logger) (collector.StationSource, error) {
	if cfg.Agent.Source != config.SourceUniFi {
		return collector.NewIWSource(iwClient), nil
	}

	unifiLogger := unifi.NewLogrusAdapter(logger)
	client := unifi.NewClient(cfg.UniFi.ControllerURL, cfg.UniFi.Username, cfg.UniFi.Password, unifiLogger)
	if err := client.Login(); err != nil {
		return nil, fmt.Errorf("unifi login: %w", err)
	}
	return unifi.NewStationSource(client, cfg.UniFi.SiteID, unifiLogger), nil
}
