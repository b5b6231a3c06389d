package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/freesleep-core/internal/bridges/freesleep"
	"github.com/nerrad567/freesleep-core/internal/device"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/config"
	"github.com/nerrad567/freesleep-core/internal/infrastructure/logging"
	"github.com/nerrad567/freesleep-core/internal/webui"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StateSource is the read side of the coordinator.
type StateSource interface {
	Snapshot() device.Snapshot
	Subscribe(filter ...device.Category) *device.Subscription
}

// VersionReader reads the pod's firmware version block.
type VersionReader interface {
	GetVersion(ctx context.Context) (map[string]any, error)
}

// BridgeMetricsProvider supplies MQTT bridge counters for /metrics.
type BridgeMetricsProvider interface {
	GetMetrics() freesleep.BridgeMetrics
}

// ConnectionChecker reports whether a client connection is up.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	PodID      string
	State      StateSource
	Commands   freesleep.CommandExecutor
	CommandLog freesleep.CommandLog     // optional
	History    device.HistoryRepository // optional
	Device     VersionReader            // optional
	Bridge     BridgeMetricsProvider    // optional
	MQTT       ConnectionChecker        // optional
	DB         *sql.DB                  // optional, for pool stats
	Gatherer   prometheus.Gatherer      // optional, serves /metrics/prometheus
	Version    string
}

// Server is the HTTP API server for the Free Sleep core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	podID      string
	state      StateSource
	commands   freesleep.CommandExecutor
	commandLog freesleep.CommandLog
	history    device.HistoryRepository
	device     VersionReader
	bridge     BridgeMetricsProvider
	mqtt       ConnectionChecker
	db         *sql.DB
	gatherer   prometheus.Gatherer
	version    string
	startTime  time.Time

	ui      http.Handler // optional web app served at "/"
	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, state source, command executor)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state source is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command executor is required")
	}
	if deps.PodID == "" {
		return nil, fmt.Errorf("pod id is required")
	}

	var ui http.Handler
	if deps.Config.UIDir != "" {
		h, err := webui.Handler(deps.Config.UIDir)
		if err != nil {
			return nil, fmt.Errorf("loading web UI: %w", err)
		}
		ui = h
	}

	logger := deps.Logger.Component("api")
	return &Server{
		ui:         ui,
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     logger,
		podID:      deps.PodID,
		state:      deps.State,
		commands:   deps.Commands,
		commandLog: deps.CommandLog,
		history:    deps.History,
		device:     deps.Device,
		bridge:     deps.Bridge,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		gatherer:   deps.Gatherer,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.WS, logger),
		tickets:    newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and its change relay, builds the router and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
//
// Parameters:
//   - ctx: Context for background goroutines (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.startBackground(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startBackground runs the hub, the change relay and ticket cleanup until
// ctx is cancelled.
func (s *Server) startBackground(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.relayChanges(ctx)
	go s.cleanTicketsLoop(ctx)
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
