package models

import (
	"time"
)

// RunPhase is the orchestrator state machine phase
type RunPhase string

const (
	PhaseIdle       RunPhase = "idle"
	PhasePlanning   RunPhase = "planning"
	PhaseScraping   RunPhase = "scraping"
	PhaseReviewing  RunPhase = "reviewing"
	PhaseSaving     RunPhase = "saving"
	PhaseOrganizing RunPhase = "organizing"
	PhaseCompleted  RunPhase = "completed"
	PhaseCancelled  RunPhase = "cancelled"
	PhaseFailed     RunPhase = "failed"
)

// Terminal reports whether the phase ends a run
func (p RunPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// RunPlan is the set of work a run decided on during planning
type RunPlan struct {
	NeededSources []string `json:"needed_sources"`
	Organize      bool     `json:"organize"`
}

// RunSummary is the condensed outcome of a finished run, attached to the
// record status for display.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Phase       RunPhase  `json:"phase"`
	Success     bool      `json:"success"`
	Cancelled   bool      `json:"cancelled"`
	SourcesUsed []string  `json:"sources_used"`
	Warnings    []string  `json:"warnings,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// RunEntry is one persisted history ledger entry
type RunEntry struct {
	ID          string                 `json:"id,omitempty"`
	RecordID    string                 `json:"record_id"`
	RecordName  string                 `json:"record_name,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Success     bool                   `json:"success"`
	Cancelled   bool                   `json:"cancelled,omitempty"`
	SourcesUsed []string               `json:"sources_used"`
	Errors      []string               `json:"errors,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Valid reports whether a loaded entry satisfies the ledger's required
// fields. Entries failing this are purged on load.
func (e *RunEntry) Valid() bool {
	return e != nil && e.RecordID != "" && !e.Timestamp.IsZero()
}

// HistoryStatistics is computed on demand from the current ledger contents
type HistoryStatistics struct {
	TotalRuns      int            `json:"total_runs"`
	SuccessRate    float64        `json:"success_rate"`
	UniqueRecords  int            `json:"unique_records"`
	PerSourceUsage map[string]int `json:"per_source_usage"`
	MeanDurationMs int64          `json:"mean_duration_ms"`
	ErrorCount     int            `json:"error_count"`
}

// HistoryExport wraps the ledger for export/import
type HistoryExport struct {
	ExportDate time.Time         `json:"export_date"`
	Version    string            `json:"version"`
	Statistics HistoryStatistics `json:"statistics"`
	History    []RunEntry        `json:"history"`
}
