package interfaces

import (
	"context"

	"github.com/Stonelukas/curator/internal/models"
)

// StatusEventKind classifies direct status mutations applied without
// re-detection (the orchestrator already knows the outcome).
type StatusEventKind string

const (
	StatusEventSourceScraped StatusEventKind = "source_scraped"
	StatusEventOrganizedSet  StatusEventKind = "organized_set"
	StatusEventRunFinished   StatusEventKind = "run_finished"
)

// StatusSubscriber receives a status snapshot after every change.
// Subscribers run synchronously in registration order; one panicking
// subscriber never prevents the rest from running.
type StatusSubscriber func(status *models.RecordStatus)

// StatusService owns the current-record status snapshot
type StatusService interface {
	// Refresh re-runs detection for all concerns against the current
	// page context and publishes changes
	Refresh(ctx context.Context) (*models.RecordStatus, error)

	// Current returns the last computed snapshot (nil before first refresh)
	Current() *models.RecordStatus

	// ApplyEvent mutates status directly without re-detection
	ApplyEvent(kind StatusEventKind, payload map[string]interface{})

	// Subscribe registers a change callback and returns a subscription id
	Subscribe(sub StatusSubscriber) int

	// Unsubscribe removes a previously registered callback
	Unsubscribe(id int)

	// Completion derives the completion percentage and recommendations
	Completion() *models.CompletionSummary
}
