package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/common"
)

// APIHandler serves system-level endpoints
type APIHandler struct {
	logger arbor.ILogger
}

// NewAPIHandler creates an API handler
func NewAPIHandler(logger arbor.ILogger) *APIHandler {
	return &APIHandler{logger: logger}
}

// VersionHandler returns build version information.
// GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}

// HealthHandler reports liveness.
// GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFoundHandler catches unmatched API routes
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "not found")
}
