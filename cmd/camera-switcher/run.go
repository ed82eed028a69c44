package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camera-switcher/internal/hass"
	"camera-switcher/internal/logger"
	"camera-switcher/internal/models"
	"camera-switcher/internal/mqtt"
	"camera-switcher/internal/redis"
	"camera-switcher/internal/switcher"
)

func run(parent context.Context, cfg *models.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Initialize publishers
	var publishers switcher.MultiPublisher
	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient = mqtt.NewClient(cfg.MQTT)
		publishers = append(publishers, mqttClient)
	}
	if cfg.Redis.URL != "" {
		store, err := redis.NewStore(cfg.Redis)
		if err != nil {
			return err
		}
		defer store.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := store.Ping(pingCtx); err != nil {
			logger.Warnf("Redis at %s is not reachable yet: %v", cfg.Redis.URL, err)
		}
		cancel()
		publishers = append(publishers, store)
	}
	if len(publishers) == 0 {
		logger.Warn("Neither mqtt.broker nor redis.url is set, camera changes will only be logged")
	}

	// 2. Initialize Manager
	var publisher switcher.Publisher
	if len(publishers) > 0 {
		publisher = publishers
	}
	mgr, err := switcher.NewManager(cfg.Switchers, publisher, switcher.WithTopicPrefix(cfg.MQTT.TopicPrefix))
	if err != nil {
		return err
	}

	// 3. Recover State from Home Assistant API
	rest := hass.NewClient(cfg.HASS)
	if cfg.HASS.URL != "" {
		logger.Info("Querying Home Assistant API for current states...")
		reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		states, err := rest.GetStates(reqCtx)
		cancel()
		if err != nil {
			logger.Warnf("Failed to query Home Assistant API: %v", err)
		} else {
			mgr.Seed(states)
		}
	}

	// 4. Connect to MQTT
	if mqttClient != nil {
		if err := mqttClient.Connect(); err != nil {
			return fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		defer mqttClient.Disconnect()
	}

	// 5. Subscribe to state changes
	switch cfg.Source {
	case "mqtt":
		if err := mqttClient.SubscribeStateStream(mgr.IngestChannel()); err != nil {
			return fmt.Errorf("failed to subscribe to statestream: %w", err)
		}
	case "websocket":
		// Every (re)connect refetches the full state so changes missed while
		// disconnected still drive reverts.
		stream := hass.NewStreamClient(cfg.HASS, hass.WithResync(func(ctx context.Context) error {
			states, err := rest.GetStates(ctx)
			if err != nil {
				return err
			}
			return mgr.Resync(ctx, states)
		}))
		go func() {
			if err := stream.Run(ctx, mgr.IngestChannel()); err != nil && ctx.Err() == nil {
				logger.Errorf("Home Assistant stream stopped: %v", err)
				stop()
			}
		}()
	}

	// 6. Run the manager until a signal arrives
	mgr.Run(ctx)
	logger.Info("Shutting down...")
	return nil
}
