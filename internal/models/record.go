package models

import (
	"fmt"
	"strings"
	"time"
)

// ConcernKind identifies what a detection concern is about
type ConcernKind string

const (
	// ConcernSource asks whether an external source has already contributed data
	ConcernSource ConcernKind = "source"
	// ConcernOrganized asks whether the record carries the organized flag
	ConcernOrganized ConcernKind = "organized"
)

// Concern is one detection question for a record: either "has source X
// contributed data" or "is the record organized".
type Concern struct {
	Kind     ConcernKind `json:"kind"`
	SourceID string      `json:"source_id,omitempty"`
}

// SourceConcern builds a per-source presence concern
func SourceConcern(sourceID string) Concern {
	return Concern{Kind: ConcernSource, SourceID: sourceID}
}

// OrganizedConcern builds the organized-flag concern
func OrganizedConcern() Concern {
	return Concern{Kind: ConcernOrganized}
}

// Key returns a stable cache key component for the concern
func (c Concern) Key() string {
	if c.Kind == ConcernSource {
		return fmt.Sprintf("source:%s", c.SourceID)
	}
	return string(c.Kind)
}

// StrategyKind distinguishes authoritative from heuristic detection strategies
type StrategyKind string

const (
	// StrategyAuthoritative is backed by the catalog API and trusted at confidence 100
	StrategyAuthoritative StrategyKind = "authoritative"
	// StrategyHeuristic infers state from UI surface signals with partial confidence
	StrategyHeuristic StrategyKind = "heuristic"
)

// DetectionOutcome is the result of probing one concern.
// Found=false implies Data is absent.
type DetectionOutcome struct {
	Found      bool                   `json:"found"`
	Confidence int                    `json:"confidence"`
	Strategy   string                 `json:"strategy,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

// SourceStatus is the detected state of one external source for a record
type SourceStatus struct {
	Scraped      bool      `json:"scraped"`
	Confidence   int       `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	StrategyUsed string    `json:"strategy_used,omitempty"`
}

// RecordStatus is the per-record status snapshot owned by the status tracker.
// It is recomputed on demand and cached in memory only; navigation to a
// different record replaces it wholesale.
type RecordStatus struct {
	RecordID   string                  `json:"record_id"`
	URL        string                  `json:"url"`
	Name       string                  `json:"name"`
	LastUpdate time.Time               `json:"last_update"`
	Sources    map[string]SourceStatus `json:"sources"`
	Organized  bool                    `json:"organized"`
	LastRun    *RunSummary             `json:"last_run,omitempty"`
}

// Clone returns a deep copy safe to hand to subscribers
func (s *RecordStatus) Clone() *RecordStatus {
	if s == nil {
		return nil
	}
	out := *s
	out.Sources = make(map[string]SourceStatus, len(s.Sources))
	for k, v := range s.Sources {
		out.Sources[k] = v
	}
	if s.LastRun != nil {
		run := *s.LastRun
		out.LastRun = &run
	}
	return &out
}

// CompletionSummary reports how close a record is to fully enriched
type CompletionSummary struct {
	Percentage      int      `json:"percentage"`
	Total           int      `json:"total"`
	Matched         int      `json:"matched"`
	Recommendations []string `json:"recommendations"`
}

// ExternalRef links a record to an entry in an external reference source
type ExternalRef struct {
	Endpoint   string `json:"endpoint"`
	ExternalID string `json:"external_id"`
}

// Record is the catalog API shape for a media record
type Record struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Details      string        `json:"details"`
	Date         string        `json:"date"`
	Organized    bool          `json:"organized"`
	Studio       string        `json:"studio"`
	Performers   []string      `json:"performers"`
	Tags         []string      `json:"tags"`
	ExternalRefs []ExternalRef `json:"external_refs"`
}

// HasRef reports whether the record carries an external reference whose
// endpoint matches the given source endpoint (substring match, the catalog
// stores full GraphQL endpoint URLs).
func (r *Record) HasRef(endpoint string) (ExternalRef, bool) {
	if r == nil || endpoint == "" {
		return ExternalRef{}, false
	}
	for _, ref := range r.ExternalRefs {
		if ref.Endpoint == endpoint || containsFold(ref.Endpoint, endpoint) {
			return ref, true
		}
	}
	return ExternalRef{}, false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
