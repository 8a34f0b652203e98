package interfaces

import (
	"context"
	"errors"

	"github.com/Stonelukas/curator/internal/models"
)

// ErrRunActive is returned when a start request arrives while a run is
// already active. Concurrent starts are rejected, never queued.
var ErrRunActive = errors.New("an automation run is already active")

// RunHandle identifies a started run and signals its completion
type RunHandle struct {
	ID   string
	Done <-chan struct{}
}

// AutomationService drives the phase-based enrichment workflow
type AutomationService interface {
	// Start begins a run for the current record. At most one run is
	// active per session.
	Start(ctx context.Context) (*RunHandle, error)

	// Cancel requests cooperative cancellation of the active run; it
	// takes effect at the next phase checkpoint
	Cancel()

	// Active reports whether a run is in flight
	Active() bool

	// Phase returns the current phase (PhaseIdle when no run is active)
	Phase() models.RunPhase
}
