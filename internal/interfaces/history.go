package interfaces

import (
	"context"

	"github.com/Stonelukas/curator/internal/models"
)

// HistoryService is the append-only, size-bounded automation run ledger
type HistoryService interface {
	// Append stores a run entry, evicting the oldest beyond the cap
	Append(ctx context.Context, entry models.RunEntry) (*models.RunEntry, error)

	// ForRecord returns entries for one record, newest first
	ForRecord(ctx context.Context, recordID string) []models.RunEntry

	// All returns every entry, newest first
	All(ctx context.Context) []models.RunEntry

	// Statistics computes aggregates over the current entries
	Statistics(ctx context.Context) models.HistoryStatistics

	// Prune removes entries older than maxAgeDays, returning the count removed
	Prune(ctx context.Context, maxAgeDays int) (int, error)

	// Clear removes all entries
	Clear(ctx context.Context) error

	// Export wraps the ledger with date, version and statistics
	Export(ctx context.Context) (*models.HistoryExport, error)

	// Import merges an exported payload, deduplicating by
	// (record id, timestamp) and preferring imported entries
	Import(ctx context.Context, data []byte) (int, error)
}
