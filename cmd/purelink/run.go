package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/purelink-bridge/internal/api"
	"github.com/nerrad567/purelink-bridge/internal/host"
	"github.com/nerrad567/purelink-bridge/internal/infrastructure/config"
	"github.com/nerrad567/purelink-bridge/internal/infrastructure/database"
	"github.com/nerrad567/purelink-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/purelink-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purelink-bridge/internal/purelink"
	"github.com/nerrad567/purelink-bridge/migrations"
)

// run is the bridge lifecycle, separated from main for testability. It
// blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - configPath: YAML file to load; empty reads the environment only
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting purelink bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	cfg.Logging.Level = cfg.LogLevel()
	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close()
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	registry := host.NewRegistry(host.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if ensureErr := registry.EnsureChannels(ctx, purelink.ChannelSpecs()); ensureErr != nil {
		return fmt.Errorf("creating host channels: %w", ensureErr)
	}

	// InfluxDB is optional. A nil Telemetry interface disables cycle recording.
	var telemetry purelink.Telemetry
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Device.Serial)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	sink, err := host.NewFanout(registry, hub)
	if err != nil {
		return fmt.Errorf("building update fan-out: %w", err)
	}

	bridge, err := startBridge(ctx, cfg, sink, telemetry, log)
	if err != nil {
		return err
	}
	defer bridge.Stop()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Bridge:   bridge,
			Channels: registry,
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, bridge, InfluxDB, database, logger.
	return nil
}

// startBridge builds the session, synchronizer and bridge for the configured
// device and starts the heartbeat. An unreachable device is not fatal.
func startBridge(ctx context.Context, cfg *config.Config, sink purelink.UpdateSink, telemetry purelink.Telemetry, log *logging.Logger) (*purelink.Bridge, error) {
	deviceType, err := purelink.ParseDeviceType(cfg.Device.Type)
	if err != nil {
		return nil, fmt.Errorf("device type: %w", err)
	}

	session, err := purelink.NewSession(purelink.SessionOptions{
		Config: purelink.ConnectionConfig{
			Address:    cfg.Device.Address,
			Port:       cfg.Device.Port,
			DeviceType: deviceType,
			Serial:     cfg.Device.Serial,
			Password:   cfg.Device.Password,
		},
		ClientIDPrefix:    cfg.MQTT.ClientIDPrefix,
		KeepAlive:         time.Duration(cfg.MQTT.KeepAlive) * time.Second,
		ConnectTimeout:    time.Duration(cfg.MQTT.ConnectTimeout) * time.Second,
		DisconnectTimeout: time.Duration(cfg.MQTT.DisconnectTimeout) * time.Second,
		TLS:               cfg.MQTT.TLS,
		EventBuffer:       cfg.Poll.EventBuffer,
		Logger:            log.With("component", "session"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating device session: %w", err)
	}

	synchronizer, err := purelink.NewSynchronizer(purelink.SynchronizerOptions{
		Session:         session,
		Sink:            sink,
		Telemetry:       telemetry,
		Logger:          log.With("component", "synchronizer"),
		ResponseTimeout: cfg.ResponseTimeout(),
		PollInterval:    cfg.Poll.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating synchronizer: %w", err)
	}

	bridge, err := purelink.NewBridge(purelink.BridgeOptions{
		Session:      session,
		Synchronizer: synchronizer,
		Heartbeat:    cfg.HeartbeatPeriod(),
		Logger:       log.With("component", "bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge running",
		"device", fmt.Sprintf("%s:%d", cfg.Device.Address, cfg.Device.Port),
		"serial", cfg.Device.Serial,
		"type", cfg.Device.Type,
	)
	return bridge, nil
}

// healthCheck verifies the local infrastructure. The device is not checked:
// the heartbeat reconnects to it.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}
