package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/interfaces"
)

// AutomationHandler exposes run start/cancel controls
type AutomationHandler struct {
	automation interfaces.AutomationService
	logger     arbor.ILogger
}

// NewAutomationHandler creates an automation handler
func NewAutomationHandler(automation interfaces.AutomationService, logger arbor.ILogger) *AutomationHandler {
	return &AutomationHandler{
		automation: automation,
		logger:     logger,
	}
}

// StartHandler begins an automation run for the current record.
// POST /api/automation/start
func (h *AutomationHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	handle, err := h.automation.Start(r.Context())
	if err != nil {
		if errors.Is(err, interfaces.ErrRunActive) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to start automation run")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "started",
		"run_id": handle.ID,
	})
}

// CancelHandler requests cancellation of the active run.
// POST /api/automation/cancel
func (h *AutomationHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if !h.automation.Active() {
		WriteError(w, http.StatusConflict, "no active run")
		return
	}

	h.automation.Cancel()
	WriteSuccess(w, "cancellation requested")
}
