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
func startHTTPServer(cfg *config.Config, handler *api.ReaderHandler) *http.Server {
	router := handler.SetupReaderRoutes(cfg.EnableMetrics)
	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Reader HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// startEventConsumer drops cached availability whenever a position changes
func startEventConsumer(ctx context.Context, consumer *kafka.Consumer, handler *kafka.CacheInvalidationHandler) {
	go func() {
		log.Info().Msg("Starting to consume engine events for cache consistency")
		if err := consumer.ConsumeEvents(ctx, handler); err != nil {
			log.Error().Err(err).Msg("Event consumption stopped")
		}
	}()
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down reader...")

	// Cancel context to stop Kafka consumption
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Reader stopped")
}

func main() {
	cfg := config.LoadConfig()
	cfg.ServiceName = "inventory-reader"
	app.SetupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if !cfg.CacheEnabled {
		log.Fatal().Msg("The reader requires CACHE_ENABLED=true")
	}
	log.Info().Msg("Starting reader...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Migrations belong to the engine
	cfg.RunMigrations = false
	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer backend.Close()

	cache, err := app.OpenCache(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache")
	}
	defer cache.Close()

	availability, err := app.NewCachedAvailability(backend, cache, app.ServiceConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create availability query")
	}

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaEventsTopicName)
	defer consumer.Close()

	checks := backend.HealthChecks()
	checks["redis"] = cache.Ping

	server := startHTTPServer(cfg, api.NewReaderHandler(availability, checks))
	startEventConsumer(ctx, consumer, kafka.NewCacheInvalidationHandler(cache))

	log.Info().Msg("Reader started")

	gracefulShutdown(cancel, server)
}
