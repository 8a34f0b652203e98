package interfaces

import (
	"context"

	"github.com/Stonelukas/curator/internal/models"
)

// DetectionService runs the ordered strategy pipeline for one concern.
// Detection is read-only apart from its own cache; concurrent calls are
// tolerated (cache writes are last-write-wins re-derivations).
type DetectionService interface {
	// Detect probes a concern for a record. A failing strategy never
	// aborts the concern; it degrades to the next strategy. No match
	// yields {Found:false, Confidence:0}.
	Detect(ctx context.Context, recordID string, concern models.Concern) models.DetectionOutcome

	// Invalidate drops all cached outcomes for a record. Callers must
	// invalidate after any action that could change backing data.
	Invalidate(recordID string)

	// InvalidateAll drops the whole cache
	InvalidateAll()
}
