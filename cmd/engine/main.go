package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/api"
	"inventory-engine/internal/app"
	"inventory-engine/internal/config"
	"inventory-engine/internal/kafka"
)

// startHTTPServer starts the HTTP server
func startHTTPServer(cfg *config.Config, handler *api.EngineHandler) *http.Server {
	router := handler.SetupRoutes(cfg.EnableMetrics)
	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Engine HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// startOutboxPublisher relays committed events to Kafka
func startOutboxPublisher(ctx context.Context, cfg *config.Config, backend *app.Backend) *kafka.Publisher {
	if !cfg.OutboxEnabled {
		log.Info().Msg("Outbox publisher disabled")
		return nil
	}

	publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopicName)
	go publisher.RunRelay(ctx, backend.Outbox, kafka.OutboxConfig{
		LockKey:      cfg.OutboxLockKey,
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
	})
	return publisher
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down engine...")

	// Stop the outbox loop before draining HTTP
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Engine stopped")
}

func main() {
	cfg := config.LoadConfig()
	app.SetupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info().Str("store", cfg.StoreDriver).Msg("Starting inventory engine...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer backend.Close()

	cache, err := app.OpenCache(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache")
	}
	checks := backend.HealthChecks()
	if cache != nil {
		defer cache.Close()
		checks["redis"] = cache.Ping
	}

	services, err := app.NewServices(backend, cache, app.ServiceConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create services")
	}

	if publisher := startOutboxPublisher(ctx, cfg, backend); publisher != nil {
		defer publisher.Close()
	}

	handler := api.NewEngineHandler(api.EngineServices{
		Ledger:       services.Ledger,
		Availability: services.Availability,
		Reservations: services.Reservations,
		Kits:         services.Kits,
		Counts:       services.Counts,
	}, checks)
	server := startHTTPServer(cfg, handler)

	log.Info().Msg("Inventory engine started")

	gracefulShutdown(cancel, server)
}
