package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Automation
	mux.HandleFunc("/api/automation/start", s.app.AutomationHandler.StartHandler)
	mux.HandleFunc("/api/automation/cancel", s.app.AutomationHandler.CancelHandler)

	// API routes - Status
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/status/completion", s.app.StatusHandler.GetCompletionHandler)

	// API routes - History
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.HistoryHandler.ListHandler,
		})
	})
	mux.HandleFunc("/api/history/stats", s.app.HistoryHandler.StatsHandler)
	mux.HandleFunc("/api/history/export", s.app.HistoryHandler.ExportHandler)
	mux.HandleFunc("/api/history/import", s.app.HistoryHandler.ImportHandler)
	mux.HandleFunc("/api/history/clear", s.app.HistoryHandler.ClearHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
