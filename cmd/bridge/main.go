// Command bridge is the entry point for the gateway bridge.
//
// The bridge terminates gateway TCP sessions, maintains an in-memory
// per-user device catalog, translates it into the assistant's vocabulary,
// and answers fulfillment requests over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gateway-bridge/migrations"

	"github.com/nerrad567/gateway-bridge/internal/api"
	"github.com/nerrad567/gateway-bridge/internal/audit"
	"github.com/nerrad567/gateway-bridge/internal/device"
	"github.com/nerrad567/gateway-bridge/internal/directory"
	"github.com/nerrad567/gateway-bridge/internal/fulfillment"
	"github.com/nerrad567/gateway-bridge/internal/gateway"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/config"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/database"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/tsdb"
	"github.com/nerrad567/gateway-bridge/internal/lifecycle"
	"github.com/nerrad567/gateway-bridge/internal/reportstate"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when BRIDGE_CONFIG is not set.
const defaultConfigPath = "/etc/gateway-bridge/config.yaml"

func main() {
	fmt.Printf("gateway-bridge %s (%s) built %s\n", version, commit, date)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath resolves the configuration file path, preferring the
// BRIDGE_CONFIG environment variable over defaultConfigPath.
func getConfigPath() string {
	if v := os.Getenv("BRIDGE_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath
}

// run wires every component together and blocks until ctx is cancelled or
// a component fails. Separated from main for testability.
func run(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("gateway-bridge starting", "bridge_id", cfg.Bridge.ID, "version", version)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditRecorder := audit.NewConnectionRecorder(auditRepo, logger)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", err)
	}
	defer mqttClient.Close()

	var tsdbClient *tsdb.Client
	if cfg.InfluxDB.Enabled {
		tsdbClient, err = tsdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to influxdb: %w", err)
		}
		defer tsdbClient.Close()
	}

	dir := directory.New()
	repo := device.NewRepository(logger, cfg.Gateway.LivenessTimeout())

	dispatcher := gateway.NewDispatcher(dir)
	repo.SetDispatch(dispatcher.Dispatch)

	var reportStateClient reportstate.TSDBWriter
	if tsdbClient != nil {
		reportStateClient = tsdbClient
	}
	publisher := reportstate.New(mqttClient, reportStateClient, repo, byte(cfg.MQTT.QoS), logger)
	repo.AddStateChangedListener(publisher.HandleStateChanged)

	fulfillmentHandler := fulfillment.NewHandler(repo, dir, auditRecorder, logger)

	listener := gateway.NewListener(
		fmt.Sprintf("%s:%d", cfg.Gateway.ListenHost, cfg.Gateway.ListenPort),
		gateway.Deps{
			Directory:           dir,
			Attacher:            dir,
			Devices:             repo,
			Logger:              logger,
			Audit:               auditRecorder,
			AuthTimeout:         cfg.Gateway.AuthTimeout(),
			MaxBufferSize:       cfg.Gateway.MaxFrameBuffer,
			SendQueueSize:       cfg.Gateway.SendQueueSize,
			CommandSendDeadline: cfg.Gateway.CommandSendTimeout(),
		},
		logger,
	)

	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		BridgeID:    cfg.Bridge.ID,
		Logger:      logger,
		Fulfillment: fulfillmentHandler,
		Devices:     repo,
		Connections: dir,
		ReportState: publisher,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("building api server: %w", err)
	}

	group := lifecycle.New(logger)
	group.Add("gateway-listener", listener)
	group.Add("device-watchdog", repo)
	group.Add("report-state-publisher", publisher)
	group.AddStarter("api-server", apiServer)

	err = group.Run(ctx)
	logger.Info("gateway-bridge stopped")
	return err
}
