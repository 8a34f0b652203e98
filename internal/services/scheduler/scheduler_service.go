// Package scheduler runs periodic maintenance, currently the scheduled
// history prune.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
)

// Service owns the cron runner for background maintenance jobs
type Service struct {
	history interfaces.HistoryService
	config  *common.HistoryConfig
	cron    *cron.Cron
	logger  arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a maintenance scheduler
func NewService(history interfaces.HistoryService, config *common.HistoryConfig, logger arbor.ILogger) *Service {
	return &Service{
		history: history,
		config:  config,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
	}
}

// Start registers the prune job and begins the cron runner. A zero
// max-age disables pruning entirely.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if s.config.PruneMaxAgeDays <= 0 {
		s.logger.Info().Msg("History pruning disabled, scheduler idle")
		return nil
	}

	schedule := s.config.PruneSchedule
	if schedule == "" {
		schedule = "0 0 3 * * *"
	}

	if _, err := s.cron.AddFunc(schedule, s.runPrune); err != nil {
		return fmt.Errorf("failed to schedule history prune: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", schedule).
		Int("max_age_days", s.config.PruneMaxAgeDays).
		Msg("History prune scheduled")

	return nil
}

// Stop halts the cron runner and waits for a running job to finish
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Service) runPrune() {
	removed, err := s.history.Prune(context.Background(), s.config.PruneMaxAgeDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled history prune failed")
		return
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Scheduled history prune completed")
	}
}
