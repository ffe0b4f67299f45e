// Package api provides the HTTP fulfillment surface and operator debug
// WebSocket feed for the gateway bridge.
//
// It exposes the fulfillment endpoint, a health check, a metrics
// snapshot, and a ticket-authenticated debug feed that relays the device
// repository's change events for live observation.
//
// The server follows the same lifecycle pattern as the bridge's other
// long-running components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gateway-bridge/internal/device"
	"github.com/nerrad567/gateway-bridge/internal/fulfillment"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/config"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Fulfillment is the subset of *fulfillment.Handler the server needs.
type Fulfillment interface {
	Handle(ctx context.Context, userID string, req fulfillment.Request) fulfillment.Response
}

// Devices is the subset of *device.Repository the server needs for metrics
// and the debug feed's change-event relay.
type Devices interface {
	Stats() device.Stats
	AddDevicesChangedListener(fn func(device.DevicesChanged))
	AddStateChangedListener(fn func(device.StateChanged))
}

// Connections is the subset of *directory.Directory the server needs for
// the live-connection-count metric.
type Connections interface {
	ConnectionCount() int
}

// ReportStateCounter is the subset of *reportstate.Publisher the server needs
// for the report-state metrics.
type ReportStateCounter interface {
	Counts() (success, failure, dropped uint64)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	BridgeID    string
	Logger      *logging.Logger
	Fulfillment Fulfillment
	Devices     Devices
	Connections Connections
	ReportState ReportStateCounter // optional
	Version     string
}

// Server is the bridge's HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	bridgeID    string
	logger      *logging.Logger
	fulfillment Fulfillment
	devices     Devices
	connections Connections
	reportState ReportStateCounter
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc
	rateLimiter *rateLimiter
	wsTickets   *ticketStore
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment handler is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		bridgeID:    deps.BridgeID,
		logger:      deps.Logger,
		fulfillment: deps.Fulfillment,
		devices:     deps.Devices,
		connections: deps.Connections,
		reportState: deps.ReportState,
		version:     deps.Version,
		startTime:   time.Now(),
		rateLimiter: newRateLimiter(),
		wsTickets:   newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, wires the device
// repository's change events onto it, and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	s.wireDeviceEvents()

	go s.cleanTicketsLoop(srvCtx)
	if s.rateLimiter != nil {
		go s.rateLimiter.cleanupLoop(srvCtx, rateLimitWindow)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
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
