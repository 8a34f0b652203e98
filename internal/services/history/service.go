// Package history is the append-only, size-bounded automation run ledger.
// It self-heals on corrupt storage: invalid entries are dropped on load
// and the cleaned set written back, never surfaced as an error.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/Stonelukas/curator/internal/interfaces"
	"github.com/Stonelukas/curator/internal/models"
)

// SchemaVersion is embedded in the persisted blob for forward-compatible
// migration
const SchemaVersion = "1"

// Service implements interfaces.HistoryService
type Service struct {
	storage    interfaces.HistoryStorage
	events     interfaces.EventService
	logger     arbor.ILogger
	maxEntries int

	mu      sync.RWMutex
	entries []models.RunEntry // newest first
}

// NewService creates the ledger and loads persisted entries, purging any
// that fail validation.
func NewService(storage interfaces.HistoryStorage, events interfaces.EventService, maxEntries int, logger arbor.ILogger) (*Service, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("history max entries must be positive, got %d", maxEntries)
	}

	s := &Service{
		storage:    storage,
		events:     events,
		logger:     logger,
		maxEntries: maxEntries,
	}

	if err := s.load(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// load reads the persisted blob and self-heals corrupt state
func (s *Service) load(ctx context.Context) error {
	payload, version, err := s.storage.LoadBlob(ctx)
	if err == interfaces.ErrBlobNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load history blob: %w", err)
	}

	entries, dropped := parseEntries(payload)
	sortNewestFirst(entries)
	if len(entries) > s.maxEntries {
		dropped += len(entries) - s.maxEntries
		entries = entries[:s.maxEntries]
	}

	s.entries = entries

	if dropped > 0 {
		s.logger.Warn().
			Int("dropped", dropped).
			Int("kept", len(entries)).
			Str("version", version).
			Msg("History blob contained invalid entries, rewriting cleaned state")
		if err := s.persist(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to rewrite cleaned history")
		}
	}

	return nil
}

// parseEntries decodes a persisted payload entry by entry so one malformed
// element never discards the rest.
func parseEntries(payload []byte) ([]models.RunEntry, int) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		// Whole-blob corruption: nothing salvageable
		return nil, 1
	}

	entries := make([]models.RunEntry, 0, len(raw))
	dropped := 0
	for _, item := range raw {
		var entry models.RunEntry
		if err := json.Unmarshal(item, &entry); err != nil || !entry.Valid() {
			dropped++
			continue
		}
		entries = append(entries, entry)
	}

	return entries, dropped
}

// Append stores a run entry, evicting the oldest beyond the cap
func (s *Service) Append(ctx context.Context, entry models.RunEntry) (*models.RunEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.SourcesUsed == nil {
		entry.SourcesUsed = []string{}
	}
	if !entry.Valid() {
		return nil, fmt.Errorf("history entry requires a record id and timestamp")
	}

	s.mu.Lock()
	s.entries = append([]models.RunEntry{entry}, s.entries...)
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[:s.maxEntries]
	}
	err := s.persist(ctx)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if s.events != nil {
		_ = s.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventHistoryAppended,
			Payload: entry,
		})
	}

	s.logger.Debug().
		Str("record_id", entry.RecordID).
		Bool("success", entry.Success).
		Msg("History entry appended")

	return &entry, nil
}

// ForRecord returns entries for one record, newest first
func (s *Service) ForRecord(ctx context.Context, recordID string) []models.RunEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.RunEntry, 0)
	for _, entry := range s.entries {
		if entry.RecordID == recordID {
			out = append(out, entry)
		}
	}
	return out
}

// All returns every entry, newest first
func (s *Service) All(ctx context.Context) []models.RunEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.RunEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Statistics computes aggregates on demand; no incremental state to go
// stale or corrupt.
func (s *Service) Statistics(ctx context.Context) models.HistoryStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.HistoryStatistics{
		TotalRuns:      len(s.entries),
		PerSourceUsage: make(map[string]int),
	}

	if len(s.entries) == 0 {
		return stats
	}

	successes := 0
	records := make(map[string]struct{})
	var totalDuration int64
	timed := 0

	for _, entry := range s.entries {
		if entry.Success {
			successes++
		}
		records[entry.RecordID] = struct{}{}
		for _, source := range entry.SourcesUsed {
			stats.PerSourceUsage[source]++
		}
		if entry.DurationMs > 0 {
			totalDuration += entry.DurationMs
			timed++
		}
		stats.ErrorCount += len(entry.Errors)
	}

	stats.SuccessRate = float64(successes) / float64(len(s.entries))
	stats.UniqueRecords = len(records)
	if timed > 0 {
		stats.MeanDurationMs = totalDuration / int64(timed)
	}

	return stats
}

// Prune removes entries older than maxAgeDays
func (s *Service) Prune(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]models.RunEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}

	removed := len(s.entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	s.entries = kept
	if err := s.persist(ctx); err != nil {
		return 0, err
	}

	s.logger.Info().
		Int("removed", removed).
		Int("max_age_days", maxAgeDays).
		Msg("History pruned")

	return removed, nil
}

// Clear removes all entries
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	return s.persist(ctx)
}

// Export wraps the ledger with date, version and statistics
func (s *Service) Export(ctx context.Context) (*models.HistoryExport, error) {
	stats := s.Statistics(ctx)

	s.mu.RLock()
	history := make([]models.RunEntry, len(s.entries))
	copy(history, s.entries)
	s.mu.RUnlock()

	return &models.HistoryExport{
		ExportDate: time.Now(),
		Version:    SchemaVersion,
		Statistics: stats,
		History:    history,
	}, nil
}

// Import merges an exported payload. Entries are deduplicated by
// (record id, timestamp) with imported entries winning, then re-sorted
// newest first and re-capped.
func (s *Service) Import(ctx context.Context, data []byte) (int, error) {
	var export models.HistoryExport
	if err := json.Unmarshal(data, &export); err != nil || export.History == nil {
		// Also accept a bare entry array
		var bare []models.RunEntry
		if err := json.Unmarshal(data, &bare); err != nil {
			return 0, fmt.Errorf("unrecognized history import payload: %w", err)
		}
		export.History = bare
	}

	imported := make([]models.RunEntry, 0, len(export.History))
	seen := make(map[string]struct{})
	for _, entry := range export.History {
		if !entry.Valid() {
			continue
		}
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		key := dedupeKey(entry)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		imported = append(imported, entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := imported
	for _, existing := range s.entries {
		if _, dup := seen[dedupeKey(existing)]; dup {
			continue
		}
		merged = append(merged, existing)
	}

	sortNewestFirst(merged)
	if len(merged) > s.maxEntries {
		merged = merged[:s.maxEntries]
	}

	s.entries = merged
	if err := s.persist(ctx); err != nil {
		return 0, err
	}

	s.logger.Info().
		Int("imported", len(imported)).
		Int("total", len(merged)).
		Msg("History imported")

	return len(imported), nil
}

// persist writes the current entries; callers hold the lock
func (s *Service) persist(ctx context.Context) error {
	payload, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.storage.SaveBlob(ctx, payload, SchemaVersion); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}
	return nil
}

func dedupeKey(entry models.RunEntry) string {
	return entry.RecordID + "|" + entry.Timestamp.UTC().Format(time.RFC3339Nano)
}

func sortNewestFirst(entries []models.RunEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}
