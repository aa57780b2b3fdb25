// Fing Bridge exposes the devices seen by local Fing agents to Home Assistant.
//
// Each configured agent (a configuration entry) is polled on its own
// interval. Devices become presence, IP and timestamp entities published over
// MQTT discovery, and a per-entry alert-mode switch turns new-device events
// on and off. Entries are stored in SQLite and managed through a REST API;
// events are also streamed over WebSocket and poll metrics optionally written
// to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/fing-bridge/migrations"

	"github.com/nerrad567/fing-bridge/internal/api"
	"github.com/nerrad567/fing-bridge/internal/entry"
	"github.com/nerrad567/fing-bridge/internal/fing"
	"github.com/nerrad567/fing-bridge/internal/homeassistant"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/database"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/mqtt"
)

// Set at build time via -ldflags "-X main.version=1.0.0".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds unloading the entries on exit.
const shutdownTimeout = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge together and blocks until ctx is cancelled.
// Teardown happens in reverse order through defers.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fing bridge", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	topics := mqtt.NewTopics(cfg.HomeAssistant)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics.Status())
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"status_topic", topics.Status(),
	)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	publisher, err := homeassistant.NewPublisher(homeassistant.Options{
		Client:           mqttClient,
		Topics:           topics,
		QoS:              mqttClient.QoS(),
		PublishDiscovery: cfg.HomeAssistant.PublishDiscovery,
		Logger:           log.Component("homeassistant"),
	})
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	go hub.Run(hubCtx)
	defer stopHub()

	observers := []entry.Observer{publisher, hub}
	if influxClient != nil {
		observers = append(observers, newTelemetrySink(influxClient))
	}

	manager, err := entry.NewManager(entry.ManagerOptions{
		Repo:               entry.NewSQLiteRepository(db.DB),
		RetryPolicy:        retryPolicy(cfg.Fing),
		InsecureSkipVerify: cfg.Fing.InsecureSkipVerify,
		AssumeOnline:       cfg.Fing.AssumeOnlineWhenUnknown,
		Observers:          observers,
		Logger:             log.Component("entry"),
	})
	if err != nil {
		return fmt.Errorf("creating entry manager: %w", err)
	}
	defer func() {
		log.Info("unloading entries")
		unloadCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		manager.Close(unloadCtx)
	}()

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		Manager: manager,
		MQTT:    mqttClient,
		DB:      db,
		Hub:     hub,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	seeded, err := manager.SeedFileEntries(ctx, cfg.Entries)
	if err != nil {
		return fmt.Errorf("seeding config file entries: %w", err)
	}
	if seeded > 0 {
		log.Info("config file entries stored", "count", seeded)
	}
	if setupErr := manager.SetupAll(ctx); setupErr != nil {
		// Broken entries stay stored and can be fixed or deleted over the API.
		log.Error("some entries failed to set up", "error", setupErr)
	}
	log.Info("entries loaded", "count", len(manager.Runtimes()))

	if hcErr := healthCheck(ctx, db, mqttClient, influxClient, server); hcErr != nil {
		return fmt.Errorf("health check failed: %w", hcErr)
	}
	log.Info("all health checks passed, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns FINGBRIDGE_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("FINGBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// retryPolicy builds the agent client's retry policy from the fing section.
func retryPolicy(cfg config.FingConfig) *fing.RetryPolicy {
	p := fing.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		p.InitialBackoff = cfg.InitialBackoffDuration()
	}
	if cfg.BackoffFactor >= 1 {
		p.Factor = cfg.BackoffFactor
	}
	if cfg.RequestTimeout > 0 {
		p.AttemptTimeout = cfg.RequestTimeoutDuration()
	}
	return &p
}

// healthChecker is implemented by every long-lived dependency.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies the infrastructure. influxClient may be nil.
func healthCheck(ctx context.Context, db, mqttClient healthChecker, influxClient *influxdb.Client, server healthChecker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
