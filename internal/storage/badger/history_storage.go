package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Stonelukas/curator/internal/interfaces"
)

// historyBlobKey is the fixed key for the single ledger record
const historyBlobKey = "history"

// historyBlob is the persisted ledger document. The ledger is small and
// bounded, so it is stored as one versioned payload rather than one row
// per entry; load-time healing needs the whole document anyway.
type historyBlob struct {
	Key       string `badgerhold:"key"`
	Payload   []byte
	Version   string
	UpdatedAt time.Time
}

// HistoryStorage implements interfaces.HistoryStorage on badgerhold
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a history blob store
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) *HistoryStorage {
	return &HistoryStorage{db: db, logger: logger}
}

// LoadBlob reads the persisted ledger payload
func (s *HistoryStorage) LoadBlob(ctx context.Context) ([]byte, string, error) {
	var blob historyBlob
	err := s.db.Store().Get(historyBlobKey, &blob)
	if err == badgerhold.ErrNotFound {
		return nil, "", interfaces.ErrBlobNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load history blob: %w", err)
	}
	return blob.Payload, blob.Version, nil
}

// SaveBlob writes the ledger payload, replacing any previous version
func (s *HistoryStorage) SaveBlob(ctx context.Context, payload []byte, version string) error {
	blob := historyBlob{
		Key:       historyBlobKey,
		Payload:   payload,
		Version:   version,
		UpdatedAt: time.Now(),
	}

	if err := s.db.Store().Upsert(historyBlobKey, &blob); err != nil {
		return fmt.Errorf("failed to save history blob: %w", err)
	}

	s.logger.Trace().
		Int("bytes", len(payload)).
		Str("version", version).
		Msg("History blob persisted")
	return nil
}

// Reset deletes the persisted ledger
func (s *HistoryStorage) Reset(ctx context.Context) error {
	err := s.db.Store().Delete(historyBlobKey, &historyBlob{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to reset history blob: %w", err)
	}
	return nil
}
