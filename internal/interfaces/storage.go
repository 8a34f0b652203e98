package interfaces

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned when no history blob has been persisted yet
var ErrBlobNotFound = errors.New("history blob not found")

// HistoryStorage persists the ledger as a single versioned JSON blob.
// The ledger owns parsing and self-healing; storage only moves bytes.
type HistoryStorage interface {
	// LoadBlob returns the persisted payload and its schema version
	LoadBlob(ctx context.Context) (payload []byte, version string, err error)

	// SaveBlob overwrites the persisted payload
	SaveBlob(ctx context.Context, payload []byte, version string) error

	// Reset deletes the persisted blob
	Reset(ctx context.Context) error
}

// StorageManager aggregates the storage ports and owns the connection
type StorageManager interface {
	History() HistoryStorage
	Close() error
}
