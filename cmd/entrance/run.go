package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/entrance/internal/api"
	"github.com/nerrad567/entrance/internal/connection"
	"github.com/nerrad567/entrance/internal/connection/ssh"
	"github.com/nerrad567/entrance/internal/feature"
	"github.com/nerrad567/entrance/internal/infrastructure/config"
	"github.com/nerrad567/entrance/internal/infrastructure/database"
	"github.com/nerrad567/entrance/internal/infrastructure/influxdb"
	"github.com/nerrad567/entrance/internal/infrastructure/logging"
	"github.com/nerrad567/entrance/internal/infrastructure/mqtt"
	"github.com/nerrad567/entrance/internal/persist"
	"github.com/nerrad567/entrance/internal/telemetry"
)

// healthCheckTimeout bounds the startup infrastructure checks.
const healthCheckTimeout = 10 * time.Second

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Command-line overrides
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts *options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting entrance",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", opts.configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	registry, err := feature.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("building feature registry: %w", err)
	}
	// Bad feature options stop startup rather than the first session.
	if err := registry.CheckOptions(cfg.Features); err != nil {
		return fmt.Errorf("checking feature options: %w", err)
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.NewMetrics()
	}
	recorders := telemetry.Recorders{metrics}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		recorders = append(recorders, telemetry.NewMQTTRecorder(mqttClient, mqttClient.Topics().ConnectionState, log))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorders = append(recorders, telemetry.NewInfluxRecorder(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Persist stores are opened on first use, one per file.
	pool := persist.NewPool(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	defer func() {
		log.Info("closing persist stores")
		if closeErr := pool.Close(); closeErr != nil {
			log.Error("error closing persist stores", "error", closeErr)
		}
	}()

	env := &feature.Env{
		Logger:    log,
		Registry:  registry,
		Factories: factories(cfg.Connections, log),
		Persist:   pool,
		Bus:       persist.NewBus(),
		States:    recorders,
		Metrics:   metrics,
		Exit: func(code int) {
			log.Warn("restart requested by client, exiting", "code", code)
			os.Exit(code)
		},
	}

	server, err := api.New(api.Deps{
		Config:   cfg.Server,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log,
		Env:      env,
		Features: cfg.Features,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"features", featureNames(cfg.Features),
		"connection_types", env.Factories.Names(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := server.Close(); err != nil {
		log.Error("error closing server", "error", err)
	}

	// Deferred Close() calls run in reverse order: persist stores,
	// InfluxDB, MQTT.
	log.Info("entrance stopped")
	return nil
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.addr != "" {
		cfg.Server.Host = opts.addr
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating overrides: %w", err)
	}
	return cfg, nil
}

// factories registers the connection types clients may ask for.
func factories(cfg config.ConnectionsConfig, log *logging.Logger) connection.Factories {
	return connection.Factories{
		ssh.Name: ssh.NewFactoryBuilder(ssh.Options{
			ConnectTimeout:  time.Duration(cfg.ConnectTimeout) * time.Second,
			KnownHosts:      cfg.KnownHosts,
			DisconnectGrace: time.Duration(cfg.DisconnectGrace) * time.Second,
			Logger:          log,
		}),
	}
}

// healthCheck verifies the optional infrastructure connections in parallel.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("mqtt: %w", err)
			}
			return nil
		})
	}
	if influxClient != nil {
		g.Go(func() error {
			if err := influxClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("influxdb: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func featureNames(features map[string]map[string]any) []string {
	return slices.Sorted(maps.Keys(features))
}
