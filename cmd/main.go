package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tailwind/internal/api"
	"tailwind/internal/clock"
	"tailwind/internal/config"
	"tailwind/internal/coordinator"
	"tailwind/internal/mqtt"
	"tailwind/internal/tailwind"
	_ "tailwind/internal/tailwind/binarysensor"
	"tailwind/pkg/platform"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Bootstrap logger until the configured one is built
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "."
	}

	cfg, err := config.NewLoader(configDir, logger).Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, err = cfg.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Tailwind bridge",
		zap.String("device", cfg.Device.Name),
		zap.String("status_file", cfg.Device.StatusFile))

	clk := clock.NewRealClock()
	fetcher := tailwind.NewFileFetcher(cfg.Device.StatusFile, clk, logger)

	doors, err := coordinator.New[tailwind.Door](fetcher, cfg.CoordinatorConfig(), clk, logger)
	if err != nil {
		logger.Fatal("Failed to create coordinator", zap.Error(err))
	}

	if err := doors.FirstRefresh(context.Background()); err != nil {
		logger.Fatal("Initial status fetch failed", zap.Error(err))
	}

	entities, err := platform.SetupAll(platform.NewContext(doors, logger))
	if err != nil {
		logger.Fatal("Failed to set up platforms", zap.Error(err))
	}
	logEntities(entities, logger)

	doors.Start()

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(entities, api.FromCoordinator(doors), logger, cfg.API.Port)
		if err := server.Start(); err != nil {
			logger.Fatal("Failed to start API server", zap.Error(err))
		}
	}

	var (
		client    *mqtt.Client
		publisher *mqtt.Publisher
	)
	if cfg.MQTT.Enabled() {
		topics := mqtt.PublisherConfig{
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			NodeID:          cfg.MQTT.NodeID,
		}

		client, err = mqtt.Connect(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			WillTopic:   topics.BridgeStatusTopic(),
			WillPayload: mqtt.PayloadOffline,
		}, logger)
		if err != nil {
			// Entities stay reachable over the API without a broker
			logger.Error("Failed to connect to MQTT broker", zap.Error(err))
		} else {
			publisher = mqtt.NewPublisher(client, topics, logger)
			if err := publisher.Start(entities); err != nil {
				logger.Error("Failed to publish MQTT discovery", zap.Error(err))
			}
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bridge running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")

	doors.Shutdown()

	if publisher != nil {
		publisher.Stop()
	}
	if client != nil {
		client.Close()
	}
	if server != nil {
		if err := server.Stop(); err != nil {
			logger.Error("Failed to stop API server", zap.Error(err))
		}
	}
	for _, e := range entities {
		e.Close()
	}
}

func logEntities(entities []platform.Entity, logger *zap.Logger) {
	for _, e := range entities {
		state := e.State()
		logger.Info("Entity ready",
			zap.String("unique_id", state.UniqueID),
			zap.String("platform", state.Platform),
			zap.String("state", state.State),
			zap.Any("value", state.Value))
	}
}
