package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"corrade-discord-bridge/config"
	"corrade-discord-bridge/internal/bridge"
	"corrade-discord-bridge/internal/broker"
	"corrade-discord-bridge/internal/chat"
	"corrade-discord-bridge/internal/logger"
	"corrade-discord-bridge/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Setup metrics if enabled
	var metricsService *metrics.Metrics
	var metricsServer *http.Server

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Fatal("failed to create metrics service", "error", err)
		}

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:          reg,
			EnableOpenMetrics: true,
		}))

		metricsServer = &http.Server{
			Addr:    cfg.Metrics.Address,
			Handler: mux,
		}

		go func() {
			logger.Info("starting metrics server",
				"address", cfg.Metrics.Address,
				"path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Setup signal handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Connect to the Corrade broker
	brokerConn, err := broker.New(cfg, logger, metricsService)
	if err != nil {
		logger.Fatal("failed to connect to broker", "error", err)
	}

	// Create the Discord adapter
	chatAdapter, err := chat.New(chat.Opts{
		Config:  &cfg.Discord,
		Logger:  logger,
		Metrics: metricsService,
	})
	if err != nil {
		logger.Fatal("failed to create discord adapter", "error", err)
	}

	// Create and start the relay engine
	engine := bridge.NewEngine(cfg, brokerConn, chatAdapter, logger, metricsService)
	engine.Start()

	// Subscribe to group traffic and open the gateway connection
	if err := brokerConn.Subscribe(engine.HandleBrokerMessage); err != nil {
		logger.Fatal("failed to subscribe to group topic", "error", err)
	}
	if err := chatAdapter.Connect(engine); err != nil {
		logger.Fatal("failed to connect to discord", "error", err)
	}

	logger.Info("corrade-discord-bridge started",
		"broker", cfg.Broker.Type,
		"group", cfg.Corrade.Group.Name,
		"server", cfg.Discord.Server,
		"channel", cfg.Discord.Channel,
		"metricsEnabled", cfg.Metrics.Enabled)

	// Handle signals
	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, flushing logs")
			logger.Sync()
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutting down...")

			// Graceful shutdown
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			// Shutdown metrics server if enabled
			if cfg.Metrics.Enabled && metricsServer != nil {
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					logger.Error("failed to shutdown metrics server", "error", err)
				}
			}

			// Shutdown other components
			if err := chatAdapter.Close(); err != nil {
				logger.Error("failed to close discord connection", "error", err)
			}
			brokerConn.Close()
			engine.Close()
			return
		}
	}
}
