// Free Sleep Core - pod state coordinator and command gateway
//
// This is the main entry point for the Free Sleep core service. It polls a
// single Free Sleep pod, keeps a cached snapshot of its state, and exposes
// that state and the pod's commands over:
//   - a REST and WebSocket API
//   - MQTT (retained state topics plus command/ack topics)
//   - InfluxDB telemetry and a local SQLite state history
//
// Usage:
//
//	freesleep [-config path] [-check] [-token subject]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/freesleep-core/internal/api"
	"github.com/nerrad567/freesleep-core/internal/bridges/freesleep"
	"github.com/nerrad567/freesleep-core/internal/device"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/config"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/database"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/logging"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/freesleep-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// configEnvVar overrides the default config path.
	configEnvVar = "FREESLEEP_CONFIG"

	// Command log and state history rows older than this are pruned daily.
	retention     = 30 * 24 * time.Hour
	pruneInterval = 24 * time.Hour

	// tokenTTL is the lifetime of tokens minted with -token.
	tokenTTL = 365 * 24 * time.Hour
)

// options holds the parsed command line.
type options struct {
	configPath string
	check      bool
	token      string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case opts.check:
		err = runCheck(ctx, opts.configPath)
	case opts.token != "":
		err = runToken(opts.configPath, opts.token)
	default:
		err = run(ctx, opts.configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The -config flag wins over
// FREESLEEP_CONFIG, which wins over the default path.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("freesleep", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	fs.BoolVar(&opts.check, "check", false, "validate the configured pod address with one status read and exit")
	fs.StringVar(&opts.token, "token", "", "print an API bearer token for the given subject and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses FREESLEEP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// runCheck loads the configuration and performs a single status read
// against the configured pod address.
func runCheck(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	status, err := freesleep.ValidateAddress(ctx, cfg.Device.Address, cfg.GetRequestTimeout())
	if err != nil {
		return fmt.Errorf("pod at %s: %w", cfg.Device.Address, err)
	}
	log.Info("pod reachable",
		"address", cfg.Device.Address,
		"priming", status.IsPriming,
		"left_on", status.Left.IsOn,
		"right_on", status.Right.IsOn,
	)
	return nil
}

// runToken prints a signed API token for subject.
func runToken(configPath, subject string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueToken(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, subject, tokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // composition root
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Free Sleep core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	podID := cfg.Device.ID
	podLog := log.With("pod_id", podID)

	cache := device.NewCache(device.NewNotifier(), cfg.Device.UnavailableThreshold)
	cache.SetLogger(podLog.Component("cache"))

	client := freesleep.NewClient(cfg.Device.Address, cfg.GetRequestTimeout())

	metrics := freesleep.NewMetrics(cache, podID)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics,
	)

	coordinator, err := freesleep.NewCoordinator(freesleep.CoordinatorOptions{
		Client:         client,
		Cache:          cache,
		PodID:          podID,
		StatusInterval: seconds(cfg.Device.Poll.Status),
		BaseInterval:   seconds(cfg.Device.Poll.Base),
		VitalsInterval: seconds(cfg.Device.Poll.Vitals),
		RequestTimeout: cfg.GetRequestTimeout(),
		Logger:         podLog.Component("coordinator"),
		Metrics:        metrics,
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	coordinator.Start()
	defer func() {
		log.Info("stopping coordinator")
		coordinator.Stop()
	}()
	log.Info("coordinator started", "address", cfg.Device.Address)

	commandLog := freesleep.NewSQLiteCommandLog(db.DB)
	history := device.NewSQLiteHistoryRepository(db.DB)

	gateway, err := freesleep.NewGateway(freesleep.GatewayOptions{
		Client:         client,
		Cache:          cache,
		Reloader:       coordinator,
		CommandLog:     commandLog,
		PodID:          podID,
		RequestTimeout: cfg.GetRequestTimeout(),
		Logger:         podLog.Component("gateway"),
		Metrics:        metrics,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer func() {
		log.Info("stopping command gateway")
		gateway.Stop()
	}()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var bridge *freesleep.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, bridge, err = startMQTT(ctx, cfg, gateway, cache, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	recorderOpts := freesleep.RecorderOptions{
		Cache:   cache,
		PodID:   podID,
		History: history,
		Logger:  podLog.Component("recorder"),
	}
	if influxClient != nil {
		recorderOpts.Points = influxClient
	}
	recorder, err := freesleep.NewRecorder(recorderOpts)
	if err != nil {
		return fmt.Errorf("creating recorder: %w", err)
	}
	recorder.Start()
	defer func() {
		log.Info("stopping recorder")
		recorder.Stop()
	}()

	go pruneLoop(ctx, log, commandLog, history)

	// Start HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log,
			PodID:      podID,
			State:      coordinator,
			Commands:   gateway,
			CommandLog: commandLog,
			History:    history,
			Device:     client,
			DB:         db.DB,
			Gatherer:   registry,
			Version:    version,
		}
		if bridge != nil {
			deps.Bridge = bridge
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}

		server, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server started",
			"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
			"auth", cfg.Security.JWT.Secret != "",
		)
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, recorder, InfluxDB, MQTT bridge, MQTT, gateway, coordinator, database.

	log.Info("Free Sleep core stopped")
	return nil
}

// startMQTT connects to the broker and starts the pod bridge on it.
//
// Returns:
//   - *mqtt.Client: Connected client; caller closes it
//   - *freesleep.Bridge: Running bridge; caller stops it before closing the client
//   - error: If connection or bridge start fails
func startMQTT(ctx context.Context, cfg *config.Config, executor freesleep.CommandExecutor, cache *device.Cache, log *logging.Logger) (*mqtt.Client, *freesleep.Bridge, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := freesleep.NewBridge(freesleep.BridgeOptions{
		PodID:          cfg.Device.ID,
		MQTTClient:     client,
		Executor:       executor,
		Cache:          cache,
		Version:        version,
		HealthInterval: seconds(cfg.Device.HealthInterval),
		Logger:         log.Component("bridge").With("pod_id", cfg.Device.ID),
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started")

	return client, bridge, nil
}

// pruner is implemented by the command log and the history repository.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneLoop removes rows older than retention once at startup and then daily.
func pruneLoop(ctx context.Context, log *logging.Logger, stores ...pruner) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		for _, s := range stores {
			n, err := s.Prune(ctx, retention)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn("pruning old records failed", "error", err)
				}
				continue
			}
			if n > 0 {
				log.Info("pruned old records", "rows", n)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Pod reachability is not checked here: the pod may be asleep or
	// rebooting, and the cache reports it unavailable until it answers.

	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
