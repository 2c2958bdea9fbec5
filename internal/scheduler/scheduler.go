// Package scheduler opens cyclic count sessions on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"inventory-engine/internal/config"
	"inventory-engine/internal/interfaces"
	"inventory-engine/internal/models"
)

// Scheduler creates and seeds a cyclic count session per target on every tick
type Scheduler struct {
	cron     *cron.Cron
	counts   interfaces.CountReconciler
	schedule string
	targets  []config.CycleCountTarget
	timeout  time.Duration
}

// NewScheduler creates a new scheduler instance. schedule is a standard 5-field cron expression.
func NewScheduler(counts interfaces.CountReconciler, schedule string, targets []config.CycleCountTarget) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		counts:   counts,
		schedule: schedule,
		targets:  targets,
		timeout:  2 * time.Minute,
	}
}

// Start registers the job and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runScheduled); err != nil {
		return fmt.Errorf("failed to schedule cycle counts %q: %w", s.schedule, err)
	}
	log.Info().Str("schedule", s.schedule).Int("targets", len(s.targets)).Msg("Starting cycle count scheduler")
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running job
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping cycle count scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.RunCycleCounts(ctx)
}

// RunCycleCounts opens one session per target and returns the sessions created.
// A failing target is logged and does not stop the others.
func (s *Scheduler) RunCycleCounts(ctx context.Context) []*models.CountSession {
	var sessions []*models.CountSession
	for _, target := range s.targets {
		session, err := s.counts.CreateSession(ctx, target.TenantID, target.WarehouseID, models.CountKindCyclic, nil)
		if err != nil {
			log.Error().Err(err).
				Str("tenant_id", target.TenantID).
				Str("warehouse_id", target.WarehouseID).
				Msg("Failed to create cycle count session")
			continue
		}

		lines, err := s.counts.GenerateLines(ctx, target.TenantID, session.ID)
		if err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("Failed to generate cycle count lines")
			continue
		}
		session.LinesCount = lines

		log.Info().
			Str("session_id", session.ID.String()).
			Str("tenant_id", target.TenantID).
			Str("warehouse_id", target.WarehouseID).
			Int("lines", lines).
			Msg("Cycle count session scheduled")
		sessions = append(sessions, session)
	}
	return sessions
}
