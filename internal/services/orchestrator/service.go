// Package orchestrator drives the phase-based enrichment run: plan from
// current status, scrape missing sources, review or auto-apply, save,
// organize, then record the outcome. At most one run is active per
// session and cancellation is cooperative, honored at phase checkpoints.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/common"
	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

// errRunCancelled is the distinguished cancellation signal. The top-level
// runner maps it to the Cancelled terminal state; it is never treated as a
// failure.
var errRunCancelled = errors.New("run cancelled")

// Service implements interfaces.AutomationService
type Service struct {
	tracker  interfaces.StatusService
	detector interfaces.DetectionService
	history  interfaces.HistoryService
	ui       interfaces.UIDriver
	config   *common.AutomationConfig
	events   interfaces.EventService
	logger   arbor.ILogger

	mu     sync.Mutex
	active *run
}

// run is the per-invocation state. It is owned exclusively by the
// orchestrator goroutine; phase is additionally read by Phase() under the
// service lock.
type run struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}

	phase       models.RunPhase
	recordID    string
	recordName  string
	plan        models.RunPlan
	sourcesUsed []string
	warnings    []string
	errors      []string
	cancelled   bool
}

// NewService creates the automation orchestrator
func NewService(tracker interfaces.StatusService, detector interfaces.DetectionService, history interfaces.HistoryService, uiDriver interfaces.UIDriver, config *common.AutomationConfig, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		tracker:  tracker,
		detector: detector,
		history:  history,
		ui:       uiDriver,
		config:   config,
		events:   events,
		logger:   logger,
	}
}

// Start begins a run for the currently open record. The run executes on
// its own goroutine and outlives the caller's context; requests while a
// run is active are rejected, never queued.
func (s *Service) Start(ctx context.Context) (*interfaces.RunHandle, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		s.logger.Warn().Msg("Start rejected, a run is already active")
		return nil, interfaces.ErrRunActive
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        uuid.New().String(),
		ctx:       runCtx,
		cancel:    cancel,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		phase:     models.PhasePlanning,
	}
	s.active = r
	s.mu.Unlock()

	s.publish(interfaces.EventRunStarted, map[string]interface{}{"run_id": r.id})
	s.logger.Info().Str("run_id", r.id).Msg("Automation run started")

	go s.execute(r)

	return &interfaces.RunHandle{ID: r.id, Done: r.done}, nil
}

// Cancel requests cooperative cancellation of the active run
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return
	}

	s.active.cancelled = true
	s.active.cancel()
	s.logger.Info().Str("run_id", s.active.id).Msg("Run cancellation requested")
}

// Active reports whether a run is in flight
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Phase returns the current run phase, PhaseIdle when no run is active
func (s *Service) Phase() models.RunPhase {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return models.PhaseIdle
	}
	return s.active.phase
}

// execute runs all phases and finalizes exactly once
func (s *Service) execute(r *run) {
	err := s.runPhases(r)

	var terminal models.RunPhase
	switch {
	case errors.Is(err, errRunCancelled):
		terminal = models.PhaseCancelled
	case err != nil:
		r.errors = append(r.errors, err.Error())
		terminal = models.PhaseFailed
	default:
		terminal = models.PhaseCompleted
	}

	s.finalize(r, terminal)
}

func (s *Service) runPhases(r *run) error {
	if err := s.plan(r); err != nil {
		return err
	}

	if len(r.plan.NeededSources) == 0 && !r.plan.Organize {
		s.logger.Info().Str("run_id", r.id).Msg("Nothing to do, run complete")
		return nil
	}

	if len(r.plan.NeededSources) > 0 {
		if err := s.scrape(r); err != nil {
			return err
		}
		if err := s.review(r); err != nil {
			return err
		}
	}

	// Saving only makes sense when a scrape actually produced data
	if len(r.sourcesUsed) > 0 {
		if err := s.save(r); err != nil {
			return err
		}
	}

	if r.plan.Organize {
		if err := s.organize(r); err != nil {
			return err
		}
	}

	return nil
}

// plan consults the status tracker and decides which sources need work
func (s *Service) plan(r *run) error {
	s.setPhase(r, models.PhasePlanning)

	status, err := s.tracker.Refresh(r.ctx)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	r.recordID = status.RecordID
	r.recordName = status.Name

	needed := []string{}
	for _, source := range s.config.EnabledSources() {
		if s.config.SkipAlreadyScraped {
			if existing, ok := status.Sources[source.ID]; ok && existing.Scraped {
				s.logger.Debug().
					Str("run_id", r.id).
					Str("source", source.ID).
					Msg("Source already scraped, skipping")
				continue
			}
		}
		needed = append(needed, source.ID)
	}

	r.plan = models.RunPlan{
		NeededSources: needed,
		Organize:      s.config.OrganizeEnabled && !status.Organized,
	}

	s.logger.Info().
		Str("run_id", r.id).
		Str("record_id", r.recordID).
		Int("needed_sources", len(needed)).
		Bool("organize", r.plan.Organize).
		Msg("Run plan ready")

	return s.checkpoint(r)
}

// scrape runs the scrape action for each planned source. A source whose
// trigger cannot be located is skipped with a warning; the plan continues.
func (s *Service) scrape(r *run) error {
	s.setPhase(r, models.PhaseScraping)

	for _, sourceID := range r.plan.NeededSources {
		if err := s.checkpoint(r); err != nil {
			return err
		}
		s.scrapeSource(r, sourceID)
	}

	return nil
}

func (s *Service) scrapeSource(r *run, sourceID string) {
	// Select the source in the scraper picker when the UI exposes one
	if option, err := s.ui.Locate(r.ctx, interfaces.SourceOptionRole(sourceID)); err == nil && option != nil {
		if ok, _ := s.ui.Invoke(r.ctx, option); !ok {
			s.warn(r, fmt.Sprintf("could not select source %s", sourceID))
		}
	}

	trigger, err := s.ui.Locate(r.ctx, interfaces.Role{Kind: interfaces.RoleScrapeTrigger})
	if err != nil || trigger == nil {
		s.warn(r, fmt.Sprintf("scrape trigger not found for source %s, skipping", sourceID))
		return
	}

	ok, err := s.ui.Invoke(r.ctx, trigger)
	if err != nil || !ok {
		s.warn(r, fmt.Sprintf("scrape action failed for source %s, skipping", sourceID))
		return
	}

	// Bounded wait for scraped data to land, never indefinite
	settled, err := s.ui.Observe(r.ctx, interfaces.Role{Kind: interfaces.RoleScrapeTrigger}, s.config.SettleTimeout)
	if err != nil {
		s.warn(r, fmt.Sprintf("could not observe scrape result for source %s: %v", sourceID, err))
		return
	}
	if !settled {
		s.warn(r, fmt.Sprintf("scrape result for source %s did not settle in time", sourceID))
		return
	}

	if s.config.AutoApply {
		s.applyScrape(r, sourceID)
	}

	r.sourcesUsed = append(r.sourcesUsed, sourceID)
	s.logger.Info().
		Str("run_id", r.id).
		Str("source", sourceID).
		Msg("Source scraped")
}

func (s *Service) applyScrape(r *run, sourceID string) {
	apply, err := s.ui.Locate(r.ctx, interfaces.Role{Kind: interfaces.RoleApplyConfirm})
	if err != nil || apply == nil {
		s.warn(r, fmt.Sprintf("apply control not found after scraping %s", sourceID))
		return
	}
	if ok, _ := s.ui.Invoke(r.ctx, apply); !ok {
		s.warn(r, fmt.Sprintf("apply action failed after scraping %s", sourceID))
	}
}

// review blocks until the operator applies the scraped data or the bound
// elapses. The run never hangs on an unattended review; a timeout is a
// warning and the run proceeds.
func (s *Service) review(r *run) error {
	if s.config.AutoApply || len(r.sourcesUsed) == 0 {
		return nil
	}

	s.setPhase(r, models.PhaseReviewing)
	if err := s.checkpoint(r); err != nil {
		return err
	}

	applied, err := s.ui.Observe(r.ctx, interfaces.Role{Kind: interfaces.RoleApplyConfirm}, s.config.ReviewTimeout)
	if err != nil {
		if r.ctx.Err() != nil {
			return errRunCancelled
		}
		s.warn(r, fmt.Sprintf("review observation failed: %v", err))
		return nil
	}
	if !applied {
		s.warn(r, fmt.Sprintf("review timed out after %s, proceeding", s.config.ReviewTimeout))
	}

	return nil
}

// save persists the scraped changes. Failure here is fatal: no later
// phase can be trusted without a confirmed save.
func (s *Service) save(r *run) error {
	s.setPhase(r, models.PhaseSaving)
	if err := s.checkpoint(r); err != nil {
		return err
	}

	saveButton, err := s.ui.Locate(r.ctx, interfaces.Role{Kind: interfaces.RoleSaveConfirm})
	if err != nil {
		return fmt.Errorf("save failed: %w", err)
	}
	if saveButton == nil {
		return fmt.Errorf("save control not found")
	}

	ok, err := s.ui.Invoke(r.ctx, saveButton)
	if err != nil {
		return fmt.Errorf("save failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("save action did not execute")
	}

	confirmed, err := s.ui.Observe(r.ctx, interfaces.Role{Kind: interfaces.RoleSaveConfirm}, s.config.SettleTimeout)
	if err == nil && !confirmed {
		s.warn(r, "save confirmation not observed, assuming success")
	}

	// Saved data invalidates every cached detection for this record
	s.detector.Invalidate(r.recordID)

	for _, sourceID := range r.sourcesUsed {
		s.tracker.ApplyEvent(interfaces.StatusEventSourceScraped, map[string]interface{}{
			"source_id": sourceID,
		})
	}

	s.logger.Info().Str("run_id", r.id).Msg("Changes saved")
	return nil
}

// organize toggles the organized flag if the record is not already
// organized. Verification mismatch after the toggle is a warning, not a
// failure; the click may have landed even when the immediate re-check is
// stale.
func (s *Service) organize(r *run) error {
	s.setPhase(r, models.PhaseOrganizing)
	if err := s.checkpoint(r); err != nil {
		return err
	}

	already := s.detector.Detect(r.ctx, r.recordID, models.OrganizedConcern())
	if already.Found {
		s.logger.Debug().Str("run_id", r.id).Msg("Record already organized")
		return nil
	}

	toggle, err := s.ui.Locate(r.ctx, interfaces.Role{Kind: interfaces.RoleOrganizeToggle})
	if err != nil || toggle == nil {
		s.warn(r, "organize toggle not found, skipping")
		return nil
	}

	if ok, _ := s.ui.Invoke(r.ctx, toggle); !ok {
		s.warn(r, "organize toggle did not execute")
		return nil
	}

	s.detector.Invalidate(r.recordID)
	verified := s.detector.Detect(r.ctx, r.recordID, models.OrganizedConcern())
	if !verified.Found {
		s.warn(r, "organized state not verified after toggle")
		return nil
	}

	s.tracker.ApplyEvent(interfaces.StatusEventOrganizedSet, map[string]interface{}{
		"organized": true,
	})

	s.logger.Info().Str("run_id", r.id).Msg("Record organized")
	return nil
}

// finalize writes the history entry, publishes the outcome and releases
// the run lock. It runs exactly once per run for every terminal state.
func (s *Service) finalize(r *run, terminal models.RunPhase) {
	s.setPhase(r, terminal)
	duration := time.Since(r.startedAt)

	summary := &models.RunSummary{
		RunID:       r.id,
		Phase:       terminal,
		Success:     terminal == models.PhaseCompleted,
		Cancelled:   terminal == models.PhaseCancelled,
		SourcesUsed: append([]string{}, r.sourcesUsed...),
		Warnings:    append([]string{}, r.warnings...),
		Errors:      append([]string{}, r.errors...),
		StartedAt:   r.startedAt,
		DurationMs:  duration.Milliseconds(),
	}

	if r.recordID != "" {
		entry := models.RunEntry{
			ID:          r.id,
			RecordID:    r.recordID,
			RecordName:  r.recordName,
			Timestamp:   r.startedAt,
			Success:     summary.Success,
			Cancelled:   summary.Cancelled,
			SourcesUsed: summary.SourcesUsed,
			Errors:      summary.Errors,
			Warnings:    summary.Warnings,
			DurationMs:  summary.DurationMs,
		}
		if _, err := s.history.Append(context.Background(), entry); err != nil {
			s.logger.Error().Err(err).Str("run_id", r.id).Msg("Failed to record run history")
		}
	}

	s.tracker.ApplyEvent(interfaces.StatusEventRunFinished, map[string]interface{}{
		"summary": summary,
	})

	s.publish(interfaces.EventRunCompleted, summary)

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	r.cancel()
	close(r.done)

	s.logger.Info().
		Str("run_id", r.id).
		Str("phase", string(terminal)).
		Bool("success", summary.Success).
		Int64("duration_ms", summary.DurationMs).
		Msg("Automation run finished")
}

// checkpoint tests for cancellation between phase steps. In-flight UI
// actions are never preempted; cancellation only takes effect here.
func (s *Service) checkpoint(r *run) error {
	select {
	case <-r.ctx.Done():
		return errRunCancelled
	default:
		return nil
	}
}

func (s *Service) setPhase(r *run, phase models.RunPhase) {
	s.mu.Lock()
	r.phase = phase
	s.mu.Unlock()

	s.publish(interfaces.EventRunPhase, map[string]interface{}{
		"run_id": r.id,
		"phase":  string(phase),
	})
}

func (s *Service) warn(r *run, msg string) {
	r.warnings = append(r.warnings, msg)
	s.logger.Warn().Str("run_id", r.id).Msg(msg)
}

func (s *Service) publish(eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: payload,
	})
}
