package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"inventory-engine/internal/app"
	"inventory-engine/internal/config"
	"inventory-engine/internal/kafka"
	"inventory-engine/internal/scheduler"
)

// The worker runs the background jobs: cyclic count scheduling and, when the
// engine does not, the outbox relay.
func main() {
	cfg := config.LoadConfig()
	cfg.ServiceName = "inventory-worker"
	app.SetupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().Msg("Starting worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	if cache != nil {
		defer cache.Close()
	}

	services, err := app.NewServices(backend, cache, app.ServiceConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create services")
	}

	if len(cfg.CycleCountTargets) == 0 {
		log.Warn().Msg("No CYCLE_COUNT_TARGETS configured, cycle counts will not be scheduled")
	}
	sched := scheduler.NewScheduler(services.Counts, cfg.CycleCountSchedule, cfg.CycleCountTargets)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer sched.Stop()

	if cfg.OutboxEnabled {
		// The advisory lock lets this run next to the engine's own publisher.
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopicName)
		defer publisher.Close()
		go publisher.RunRelay(ctx, backend.Outbox, kafka.OutboxConfig{
			LockKey:      cfg.OutboxLockKey,
			BatchSize:    cfg.OutboxBatchSize,
			PollInterval: cfg.OutboxPollInterval,
		})
	}

	log.Info().Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancel()
}
