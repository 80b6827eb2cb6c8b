package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vigil/config"
	"vigil/log"
	"vigil/models"
	"vigil/services"
	"vigil/transport"
	"vigil/web"
)

var devMode = flag.Bool("dev", false, "Run with the in-memory mock transport instead of MQTT")

func main() {
	flag.Parse()

	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Messaging transport: real broker in production, mock in dev mode for
	// iterating on the dashboard without a broker.
	var tr transport.Transport
	if *devMode {
		logger.Info("Running in dev mode with mock transport")
		tr = transport.NewMockTransport()
	} else {
		tr, err = transport.NewMQTTTransport(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTUsername, cfg.MQTTPassword, log.Named("transport"))
		if err != nil {
			logger.Fatal("Failed to connect transport", zap.Error(err))
		}
	}
	defer tr.Close()

	// Dashboard push channel
	hub := web.NewHub(log.Named("web"))
	go hub.Run()

	// Optional integrations, each enabled by its configuration
	var publisher *services.SnapshotPublisher
	if cfg.RabbitMQURL != "" {
		publisher, err = services.NewSnapshotPublisher(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
		}
		defer publisher.Close()
	}

	var telegram *services.TelegramService
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegram, err = services.NewTelegramService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram service", zap.Error(err))
		}
		if err := telegram.SendStartupMessage(); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	var webhook *services.WebhookAlertService
	if cfg.WebhookAlertURL != "" {
		webhook = services.NewWebhookAlertService(logger, cfg.WebhookAlertURL)
		logger.Info("Webhook alert service initialized", zap.String("url", cfg.WebhookAlertURL))
	}

	var archive *services.SnapshotArchive
	if cfg.FirebaseDbUrl != "" && cfg.FirebaseServiceAccountJSON != "" {
		archive, err = services.NewSnapshotArchive(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize snapshot archive", zap.Error(err))
		}
	}

	// Every snapshot fans out to all configured consumers.
	onSnapshot := func(snap *models.SessionSnapshot) {
		hub.BroadcastSnapshot(snap)
		if publisher != nil {
			publisher.PublishSnapshot(snap)
		}
		if telegram != nil {
			telegram.HandleSnapshot(snap)
		}
		if webhook != nil {
			webhook.HandleSnapshot(snap)
		}
		if archive != nil {
			archive.Enqueue(snap)
		}
	}

	sessionCfg := services.SessionConfig{
		MinDelay:     time.Duration(cfg.ProbeMinDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.ProbeMaxDelayMs) * time.Millisecond,
		ProbeTimeout: time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
		Method:       cfg.ProbeMethod,
	}
	registry := services.NewRegistry(tr, sessionCfg, onSnapshot, logger)
	defer registry.Close()

	// Seed targets: archived list first, then any configured additions.
	if archive != nil {
		if targets, err := archive.LoadTargets(ctx); err != nil {
			logger.Warn("Failed to load archived targets", zap.Error(err))
		} else {
			for _, target := range targets {
				if err := registry.Add(target); err != nil {
					logger.Error("Failed to track archived target",
						zap.String("target", target), zap.Error(err))
				}
			}
		}
	}
	for _, target := range cfg.InitialTargets {
		if err := registry.Add(target); err != nil {
			logger.Error("Failed to track configured target",
				zap.String("target", target), zap.Error(err))
		}
	}

	logger.Info("Vigil presence service started",
		zap.Int("probe_min_delay_ms", cfg.ProbeMinDelayMs),
		zap.Int("probe_max_delay_ms", cfg.ProbeMaxDelayMs),
		zap.Int("probe_timeout_ms", cfg.ProbeTimeoutMs),
		zap.String("probe_method", cfg.ProbeMethod),
		zap.Strings("targets", registry.Targets()),
	)

	var wg sync.WaitGroup

	// Archive batching loop
	if archive != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			archive.Run(ctx)
		}()
	}

	// Control-command consumer
	if publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := publisher.ConsumeCommands(ctx, registry.Apply); err != nil {
				logger.Error("Command consumer terminated", zap.Error(err))
			}
		}()
	}

	// HTTP server for the operator API and dashboard websocket
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		apiMux := web.NewServer(registry, hub, logger).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))
		mux.Handle("/ws", apiMux)

		server := &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: mux,
		}

		go func() {
			logger.Info("HTTP server listening", zap.String("addr", cfg.ListenAddr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Failed to start HTTP server", zap.Error(err))
			}
		}()

		<-ctx.Done()
		logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping services")

	registry.Close()
	wg.Wait()

	logger.Info("Vigil presence service stopped")
}
