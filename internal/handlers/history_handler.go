package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/interfaces"
)

// importBodyLimit caps history import payloads
const importBodyLimit = 10 << 20

// HistoryHandler serves the run history ledger
type HistoryHandler struct {
	history interfaces.HistoryService
	logger  arbor.ILogger
}

// NewHistoryHandler creates a history handler
func NewHistoryHandler(history interfaces.HistoryService, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger,
	}
}

// ListHandler returns run entries, newest first. Pass ?record_id= to
// filter to one record.
// GET /api/history
func (h *HistoryHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	recordID := r.URL.Query().Get("record_id")
	entries := h.history.All(r.Context())
	if recordID != "" {
		entries = h.history.ForRecord(r.Context(), recordID)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	})
}

// StatsHandler returns aggregate run statistics.
// GET /api/history/stats
func (h *HistoryHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, h.history.Statistics(r.Context()))
}

// ExportHandler streams the full ledger as a downloadable snapshot.
// GET /api/history/export
func (h *HistoryHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	export, err := h.history.Export(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("History export failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := fmt.Sprintf("curator-history-%s.json", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	WriteJSON(w, http.StatusOK, export)
}

// ImportHandler merges a previously exported snapshot into the ledger.
// POST /api/history/import
func (h *HistoryHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, importBodyLimit))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	count, err := h.history.Import(r.Context(), data)
	if err != nil {
		h.logger.Warn().Err(err).Msg("History import rejected")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"imported": count,
	})
}

// ClearHandler deletes all run history.
// POST /api/history/clear
func (h *HistoryHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.history.Clear(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("History clear failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteSuccess(w, "history cleared")
}
