package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/interfaces"
)

// StatusHandler serves the current record status and completion summary
type StatusHandler struct {
	tracker    interfaces.StatusService
	automation interfaces.AutomationService
	logger     arbor.ILogger
}

// NewStatusHandler creates a status handler
func NewStatusHandler(tracker interfaces.StatusService, automation interfaces.AutomationService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		tracker:    tracker,
		automation: automation,
		logger:     logger,
	}
}

// GetStatusHandler returns the current record status and run phase.
// GET /api/status; pass ?refresh=true to force re-detection.
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := h.tracker.Current()
	if r.URL.Query().Get("refresh") == "true" {
		refreshed, err := h.tracker.Refresh(r.Context())
		if err != nil {
			h.logger.Warn().Err(err).Msg("Status refresh failed")
			WriteError(w, http.StatusBadGateway, err.Error())
			return
		}
		status = refreshed
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"record": status,
		"run": map[string]interface{}{
			"active": h.automation.Active(),
			"phase":  h.automation.Phase(),
		},
	})
}

// GetCompletionHandler returns the completion percentage and
// recommendations for the current record.
// GET /api/status/completion
func (h *StatusHandler) GetCompletionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, h.tracker.Completion())
}
